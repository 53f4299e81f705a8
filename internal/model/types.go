// Package model holds the shared data types of the baker automaton: the
// immutable descriptors the scheduler and executor pass around, and the
// mutable level/round state the transition core consumes and produces.
//
// The shapes follow spec.md §3 directly; nothing here performs I/O.
package model

import (
	"bytes"
	"time"
)

// Hash is a content hash: a block hash, payload hash, or operation hash.
// Kept as a fixed-size array (not []byte) so it is comparable and usable as
// a map key, the same way the teacher compares validator identities by
// address bytes in consensus/bft.
type Hash [32]byte

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(h)*2)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// KeyHash identifies a delegate's public key, independent of address
// encoding.
type KeyHash [32]byte

func (k KeyHash) String() string { return Hash(k).String() }

// Delegate is a signing identity the baker drives through the protocol.
type Delegate struct {
	Alias     string
	PublicKey []byte
	KeyHash   KeyHash
	// Handle is an opaque reference the signer uses to locate key material;
	// key-URI resolution itself is out of scope (spec.md §1).
	Handle string
}

// Equal compares delegates by key hash, matching spec.md §3 ("Delegates
// compare by key hash").
func (d Delegate) Equal(o Delegate) bool { return d.KeyHash == o.KeyHash }

// LevelRound orders lexicographically by (Level, Round); used throughout the
// high-watermark store and the monotonicity invariants of spec.md §3/§8.
type LevelRound struct {
	Level int32
	Round int32
}

// Less reports whether lr sorts strictly before o.
func (lr LevelRound) Less(o LevelRound) bool {
	if lr.Level != o.Level {
		return lr.Level < o.Level
	}
	return lr.Round < o.Round
}

// Fitness is an opaque, strictly-ordered blob used to compare competing
// branches. Its internal structure is the protocol's concern (out of scope
// per spec.md §1); only byte-lexicographic comparison is used here, which is
// consistent with the protocol's fitness encoding being big-endian.
type Fitness []byte

// Compare returns -1, 0, or 1 the way bytes.Compare does.
func (f Fitness) Compare(o Fitness) int { return bytes.Compare(f, o) }

// ShellHeader carries the shell-level fields of a block, independent of its
// protocol payload.
type ShellHeader struct {
	Level       int32
	Predecessor Hash
	Timestamp   time.Time
	Fitness     Fitness
}

// BlockInfo is the immutable descriptor of a seen block (spec.md §3).
type BlockInfo struct {
	Hash        Hash
	Shell       ShellHeader
	PayloadHash Hash
	// Round is the round at which this block was proposed.
	Round int32
	// PayloadRound is the round at which the payload was first proposed
	// (differs from Round on a reproposal).
	PayloadRound int32

	CurrentProtocol Hash
	NextProtocol    Hash

	Prequorum *Prequorum
	// QuorumCertificate is the list of endorsement operations proving a
	// quorum for this block, when known.
	QuorumCertificate []SignedOperation

	Pool OperationPool

	// LiveBlocks is the set of block hashes this block still considers
	// live, used to filter the mempool at proposal time.
	LiveBlocks map[Hash]struct{}
}

// Prequorum is the certificate proving >= threshold voting power
// preendorsed a payload at (level, round).
type Prequorum struct {
	Level          int32
	Round          int32
	PayloadHash    Hash
	Preendorsements []SignedOperation
}

// Proposal pairs a block with the predecessor it builds on (spec.md §3).
type Proposal struct {
	Block       BlockInfo
	Predecessor BlockInfo
}

// SamePayload reports whether p and o carry the same payload hash.
func (p Proposal) SamePayload(o Proposal) bool {
	return p.Block.PayloadHash == o.Block.PayloadHash
}

// LockedRound is the highest round at which this baker has preendorsed a
// payload at the current level.
type LockedRound struct {
	PayloadHash Hash
	Round       int32
}

// EndorsablePayload is the latest proposal at the current level for which a
// prequorum is known.
type EndorsablePayload struct {
	Proposal  Proposal
	Prequorum Prequorum
}

// ElectedBlock is a proposal for which a quorum is known; eligible to be
// built upon at the next level.
type ElectedBlock struct {
	Proposal      Proposal
	EndorsementQC []SignedOperation
}

// SignedOperation is a consensus operation (preendorsement or endorsement)
// together with the delegate slot and signature that produced it.
type SignedOperation struct {
	Kind        OperationKind
	Slot        int32
	Level       int32
	Round       int32
	PayloadHash Hash
	Delegate    Delegate
	Signature   []byte
}

// OperationKind distinguishes preendorsements from endorsements.
type OperationKind uint8

const (
	OpPreendorsement OperationKind = iota + 1
	OpEndorsement
)

func (k OperationKind) String() string {
	if k == OpPreendorsement {
		return "preendorsement"
	}
	return "endorsement"
}

// OperationPool is the mempool snapshot taken at proposal time (spec.md §1
// Non-goals: content selection beyond the snapshot is out of scope).
type OperationPool struct {
	Operations [][]byte
}

// SlotInfo describes one committee member's assigned slots and voting
// power.
type SlotInfo struct {
	Delegate     Delegate
	Slots        []int32
	VotingPower  int64
}

// DelegateSlots is the committee mapping for a given level (spec.md §3).
type DelegateSlots struct {
	// OwnDelegates maps the canonical first slot to the slot info, filtered
	// to own delegates.
	OwnDelegates map[int32]SlotInfo
	// AllDelegates is the same mapping over the full committee.
	AllDelegates map[int32]SlotInfo
	// AllSlotsByRound gives the proposer slot for each round; rounds beyond
	// the array length wrap per protocol rule (round_to_slot, §4.1).
	AllSlotsByRound []int32
}

// ProposerSlot returns the proposer slot for round, applying the wraparound
// rule when round exceeds the precomputed table.
func (d DelegateSlots) ProposerSlot(round int32) (int32, bool) {
	if len(d.AllSlotsByRound) == 0 {
		return 0, false
	}
	idx := int(round) % len(d.AllSlotsByRound)
	return d.AllSlotsByRound[idx], true
}

// OwnSlotAt reports whether one of our own delegates holds the proposer slot
// for round, returning that delegate's SlotInfo.
func (d DelegateSlots) OwnSlotAt(round int32) (SlotInfo, bool) {
	slot, ok := d.ProposerSlot(round)
	if !ok {
		return SlotInfo{}, false
	}
	info, ok := d.OwnDelegates[slot]
	return info, ok
}

// Phase is the round-state machine's phase (spec.md §3).
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseAwaitingPreendorsements
	PhaseAwaitingEndorsements
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingPreendorsements:
		return "awaiting_preendorsements"
	case PhaseAwaitingEndorsements:
		return "awaiting_endorsements"
	default:
		return "idle"
	}
}

// RoundState is the round half of State (spec.md §3).
type RoundState struct {
	CurrentRound int32
	Phase        Phase
}

// LevelState is the level half of State (spec.md §3). It is replaced
// wholesale on a level bump; within a level its fields only ever tighten
// (see the monotonicity invariants of spec.md §3).
type LevelState struct {
	CurrentLevel int32

	LatestProposal *Proposal
	LockedRound    *LockedRound
	Endorsable     *EndorsablePayload
	Elected        *ElectedBlock

	DelegateSlots           DelegateSlots
	NextLevelDelegateSlots  DelegateSlots
	NextLevelProposedRound  *int32
}

// RoundDurations is the per-chain schedule consumed by internal/roundtime:
// the first round's duration, plus a per-round increment (spec.md §4.1).
type RoundDurations struct {
	First     time.Duration
	Increment time.Duration
}
