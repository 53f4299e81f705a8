package model

// Event is the tagged union the scheduler feeds into the transition core
// (spec.md §4.3). Event.Kind says which variant a value carries; callers
// switch on it.
type EventKind uint8

const (
	EventNewProposal EventKind = iota + 1
	EventPrequorumReached
	EventQuorumReached
	EventTimeoutEndOfRound
	EventTimeoutTimeToBakeNextLevel
)

// Event carries the payload for one of the EventKind variants. Only the
// fields relevant to Kind are populated; this mirrors the teacher's own
// single-struct-multiple-purpose message shapes in consensus/bft/types.go
// rather than introducing a Go sum type via interfaces, since the automaton
// package is the only consumer and a closed switch is simpler here.
type Event struct {
	Kind EventKind

	// EventNewProposal
	Proposal Proposal

	// EventPrequorumReached / EventQuorumReached
	Candidate       BlockInfo
	Power           int64
	Preendorsements []SignedOperation
	Endorsements    []SignedOperation

	// EventTimeoutEndOfRound
	EndingRound int32

	// EventTimeoutTimeToBakeNextLevel
	AtRound int32
}

// ActionKind identifies which of the step() outputs an Action carries.
type ActionKind uint8

const (
	ActionDoNothing ActionKind = iota
	ActionInjectBlock
	ActionInjectPreendorsements
	ActionInjectEndorsements
	ActionUpdateToLevel
	ActionSynchronizeRound
)

func (k ActionKind) String() string {
	switch k {
	case ActionInjectBlock:
		return "inject_block"
	case ActionInjectPreendorsements:
		return "inject_preendorsements"
	case ActionInjectEndorsements:
		return "inject_endorsements"
	case ActionUpdateToLevel:
		return "update_to_level"
	case ActionSynchronizeRound:
		return "synchronize_round"
	default:
		return "do_nothing"
	}
}

// BlockProposalKind distinguishes a fresh proposal from a reproposal of an
// already-endorsable payload (spec.md §4.3.4).
type BlockProposalKind uint8

const (
	BlockFresh BlockProposalKind = iota + 1
	BlockReproposal
)

// BlockToBake is the payload of an InjectBlock action.
type BlockToBake struct {
	Kind BlockProposalKind

	Predecessor BlockInfo
	Round       int32
	Delegate    Delegate

	// Reproposal-only fields.
	ConsensusOperations []SignedOperation
	PayloadHash         Hash
	PayloadRound        int32

	// Fresh-only field: the mempool snapshot taken at proposal time.
	Pool OperationPool
}

// ConsensusVote is one own-delegate's contribution to an
// InjectPreendorsements/InjectEndorsements batch.
type ConsensusVote struct {
	Delegate    Delegate
	Slot        int32
	Level       int32
	Round       int32
	PayloadHash Hash
	// BranchBlock is the block hash the operation's shell.branch is set to;
	// see spec.md §9's open question on preendorsement branching.
	BranchBlock Hash
}

// Continuation lets the executor finish asynchronous work (committee
// fetches) before the transition core re-enters classification of a
// proposal, matching spec.md §4.3's UpdateToLevel/SynchronizeRound actions.
// Resume is called by the executor with the refreshed state; it returns the
// next action to interpret, which may itself recurse into another
// Continuation.
type Continuation struct {
	// TargetLevel is the level whose committee must be (re)fetched; zero
	// means "resynchronize the round only, no committee refetch needed".
	TargetLevel int32
	Resume      func(state GlobalAndLevel) (State, Action)
}

// GlobalAndLevel is the subset of State a continuation's resume function
// needs: the caller refreshes DelegateSlots/NextLevelDelegateSlots on
// GlobalAndLevel.Level before invoking Resume.
type GlobalAndLevel struct {
	Global GlobalState
	Level  LevelState
	Round  RoundState
	// Pending is the proposal that triggered the UpdateToLevel/
	// SynchronizeRound action, re-classified once the continuation runs.
	Pending Proposal
}

// Action is the tagged union step() returns (spec.md §4.3).
type Action struct {
	Kind ActionKind

	NewState State

	ToBake BlockToBake

	Preendorsements []ConsensusVote
	Endorsements    []ConsensusVote

	Pending      Proposal
	Continuation *Continuation
}

// DoNothing is the zero action, returned whenever step() has nothing to do.
func DoNothing(state State) Action {
	return Action{Kind: ActionDoNothing, NewState: state}
}

// State is the full automaton state (spec.md §3: "State = {global, level,
// round}"). The scheduler is the single owner; it is only ever mutated by
// replacing it with the NewState a step() call returns.
type State struct {
	Global GlobalState
	Level  LevelState
	Round  RoundState
}

// GlobalState holds configuration and collaborator handles that outlive any
// single level (spec.md §3). Voting power is looked up by internal/executor
// from the level's DelegateSlots, and the round-time caches live in
// internal/roundtime.Cache; GlobalState only stores the inputs they are
// computed from.
type GlobalState struct {
	ChainID string

	Config ProtocolConfig

	OwnDelegates []Delegate

	Durations RoundDurations

	ConsensusThreshold    int64
	ConsensusCommitteeSize int32
}

// ProtocolConfig mirrors the enumerated options of spec.md §6.
type ProtocolConfig struct {
	MinimalFees               int64
	MinimalNanotezPerGasUnit  int64
	MinimalNanotezPerByte     int64
	Force                     bool
	ExtraOperationsSource     string
	ContextPath               string
	UserActivatedUpgrades     []ProtocolUpgrade
	LiquidityBakingEscapeVote LiquidityBakingVote
	PerBlockVoteFile          string
	NonceStrategy             NonceStrategy
}

// ProtocolUpgrade is one entry of the user-activated-upgrades schedule.
type ProtocolUpgrade struct {
	ActivationLevel int32
	Replacement     Hash
}

// LiquidityBakingVote is the escape-hatch vote attached to baked blocks.
type LiquidityBakingVote uint8

const (
	LBVoteOn LiquidityBakingVote = iota
	LBVoteOff
	LBVotePass
)

// NonceStrategy selects how seed-nonce commitments are generated.
type NonceStrategy uint8

const (
	NonceDeterministic NonceStrategy = iota
	NonceRandom
)
