// Package automaton is the pure state-transition core of spec.md §4.3:
// step(state, event) -> (state', action). Nothing here performs I/O; every
// decision needed to drive signing, injection, or persistence is expressed
// as a returned Action for internal/executor to interpret. This mirrors the
// "pure core + effectful shell" design note of spec.md §9 and the teacher's
// own separation between consensus/bft's pure vote-tallying helpers
// (addVoteIfRelevant, hasTwoThirdsPowerLocked) and its effectful Engine
// methods that call out to the network and the node.
package automaton

import (
	"bakerd/internal/model"
)

// Step consumes one event against state and returns the next state together
// with the action the executor should perform.
func Step(state model.State, event model.Event) (model.State, model.Action) {
	switch event.Kind {
	case model.EventNewProposal:
		return handleNewProposal(state, event.Proposal)
	case model.EventPrequorumReached:
		return handlePrequorumReached(state, event)
	case model.EventQuorumReached:
		return handleQuorumReached(state, event)
	case model.EventTimeoutEndOfRound:
		return handleTimeoutEndOfRound(state, event.EndingRound)
	case model.EventTimeoutTimeToBakeNextLevel:
		return handleTimeoutTimeToBakeNextLevel(state, event.AtRound)
	default:
		return state, model.DoNothing(state)
	}
}

// proposalClass is the outcome of classifying a New_proposal event against
// the current state, per spec.md §4.3.1's five cases.
type proposalClass uint8

const (
	classStale proposalClass = iota
	classFutureLevel
	classCompetingBranch
	classDifferentRound
	classAcceptable
)

func classify(state model.State, p model.Proposal) proposalClass {
	currentLevel := state.Level.CurrentLevel
	currentRound := state.Round.CurrentRound
	pLevel := p.Block.Shell.Level

	if pLevel > currentLevel {
		return classFutureLevel
	}
	if pLevel < currentLevel {
		return classStale
	}

	hasBetterPrequorum := p.Block.Prequorum != nil && p.Block.Prequorum.Round >= currentRound
	if p.Block.Round < currentRound && !hasBetterPrequorum {
		return classStale
	}

	if state.Level.LatestProposal != nil && !samePredecessor(state.Level.LatestProposal.Predecessor, p.Predecessor) {
		return classCompetingBranch
	}

	if state.Level.LatestProposal != nil && p.Block.Round != state.Level.LatestProposal.Block.Round {
		return classDifferentRound
	}

	return classAcceptable
}

func samePredecessor(a, b model.BlockInfo) bool { return a.Hash == b.Hash }

func handleNewProposal(state model.State, p model.Proposal) (model.State, model.Action) {
	// Transition-block rule (spec.md §4.3, tie-breaks): if the predecessor's
	// protocol differs from the proposal's declared next protocol, the
	// round is forced to zero regardless of timestamp.
	if p.Predecessor.CurrentProtocol != p.Block.NextProtocol && !p.Predecessor.CurrentProtocol.IsZero() {
		p.Block.Round = 0
		p.Block.PayloadRound = 0
	}

	switch classify(state, p) {
	case classStale:
		return state, model.DoNothing(state)

	case classFutureLevel:
		cont := &model.Continuation{
			TargetLevel: p.Block.Shell.Level,
			Resume: func(ga model.GlobalAndLevel) (model.State, model.Action) {
				next := model.State{Global: ga.Global, Level: ga.Level, Round: ga.Round}
				return handleNewProposal(next, ga.Pending)
			},
		}
		return state, model.Action{
			Kind:         model.ActionUpdateToLevel,
			NewState:     state,
			Pending:      p,
			Continuation: cont,
		}

	case classCompetingBranch:
		return handleCompetingBranch(state, p)

	case classDifferentRound:
		cont := &model.Continuation{
			Resume: func(ga model.GlobalAndLevel) (model.State, model.Action) {
				next := model.State{Global: ga.Global, Level: ga.Level, Round: ga.Round}
				return handleNewProposal(next, ga.Pending)
			},
		}
		return state, model.Action{
			Kind:         model.ActionSynchronizeRound,
			NewState:     state,
			Pending:      p,
			Continuation: cont,
		}

	default: // classAcceptable
		return handleAcceptableProposal(state, p)
	}
}

// handleCompetingBranch implements spec.md §4.3.1 case 3: compare fitness
// and prequorum strength across competing branches at the same level.
func handleCompetingBranch(state model.State, p model.Proposal) (model.State, model.Action) {
	current := state.Level.LatestProposal

	fitnessCmp := p.Block.Shell.Fitness.Compare(current.Block.Shell.Fitness)

	currentPrequorumRound := int32(-1)
	if state.Level.Endorsable != nil {
		currentPrequorumRound = state.Level.Endorsable.Prequorum.Round
	}
	candidatePrequorumRound := int32(-1)
	if p.Block.Prequorum != nil {
		candidatePrequorumRound = p.Block.Prequorum.Round
	}

	switchBranch := fitnessCmp > 0 || candidatePrequorumRound > currentPrequorumRound

	if fitnessCmp == 0 && candidatePrequorumRound == currentPrequorumRound && candidatePrequorumRound >= 0 {
		// Equal prequorum on competing branches is a protocol error per
		// spec.md §4.3.1: log and ignore. Logging is the executor/scheduler's
		// concern; the pure core just declines to switch.
		return state, model.DoNothing(state)
	}

	if !switchBranch {
		return state, model.DoNothing(state)
	}

	newLevel := state.Level
	newLevel.LatestProposal = &p
	// Inherit the competitor's endorsable payload only if its round exceeds
	// the current one (spec.md §4.3's tie-break bullet); otherwise keep the
	// existing endorsable_payload.
	if p.Block.Prequorum != nil && candidatePrequorumRound > currentPrequorumRound {
		newLevel.Endorsable = &model.EndorsablePayload{
			Proposal:  p,
			Prequorum: *p.Block.Prequorum,
		}
	}

	newState := model.State{Global: state.Global, Level: newLevel, Round: state.Round}
	return handleAcceptableProposal(newState, p)
}

func handleAcceptableProposal(state model.State, p model.Proposal) (model.State, model.Action) {
	newLevel := state.Level
	newLevel.LatestProposal = &p

	locked := state.Level.LockedRound
	mayPreendorse := locked == nil || locked.PayloadHash == p.Block.PayloadHash || p.Block.PayloadRound > locked.Round

	if !mayPreendorse {
		newState := model.State{Global: state.Global, Level: newLevel, Round: state.Round}
		return newState, model.DoNothing(newState)
	}

	newLevel.LockedRound = &model.LockedRound{PayloadHash: p.Block.PayloadHash, Round: p.Block.Round}
	newRound := model.RoundState{CurrentRound: state.Round.CurrentRound, Phase: model.PhaseAwaitingPreendorsements}
	if p.Block.Round > newRound.CurrentRound {
		newRound.CurrentRound = p.Block.Round
	}

	newState := model.State{Global: state.Global, Level: newLevel, Round: newRound}

	votes := ownVotesForPayload(state, p, p.Block.PayloadHash)
	return newState, model.Action{
		Kind:            model.ActionInjectPreendorsements,
		NewState:        newState,
		Preendorsements: votes,
	}
}

// ownVotesForPayload builds one ConsensusVote per own committee slot at the
// current level. Per spec.md §9's flagged open question, the branch for
// BOTH preendorsements and endorsements is set to the predecessor's block
// hash (not the proposal's own hash); this reproduces the source's
// documented behavior rather than silently "fixing" it, pending protocol
// confirmation (see DESIGN.md).
func ownVotesForPayload(state model.State, p model.Proposal, payloadHash model.Hash) []model.ConsensusVote {
	own := state.Level.DelegateSlots.OwnDelegates
	votes := make([]model.ConsensusVote, 0, len(own))
	for slot, info := range own {
		votes = append(votes, model.ConsensusVote{
			Delegate:    info.Delegate,
			Slot:        slot,
			Level:       p.Block.Shell.Level,
			Round:       p.Block.Round,
			PayloadHash: payloadHash,
			BranchBlock: p.Predecessor.Hash,
		})
	}
	return votes
}

func handlePrequorumReached(state model.State, event model.Event) (model.State, model.Action) {
	latest := state.Level.LatestProposal
	if latest == nil || event.Candidate.Hash != latest.Block.Hash || event.Candidate.Round != state.Round.CurrentRound {
		return state, model.DoNothing(state)
	}

	newLevel := state.Level
	prequorum := model.Prequorum{
		Level:           state.Level.CurrentLevel,
		Round:           state.Round.CurrentRound,
		PayloadHash:     latest.Block.PayloadHash,
		Preendorsements: event.Preendorsements,
	}
	newLevel.Endorsable = &model.EndorsablePayload{Proposal: *latest, Prequorum: prequorum}

	newRound := model.RoundState{CurrentRound: state.Round.CurrentRound, Phase: model.PhaseAwaitingEndorsements}
	newState := model.State{Global: state.Global, Level: newLevel, Round: newRound}

	votes := ownVotesForPayload(state, *latest, latest.Block.PayloadHash)
	return newState, model.Action{
		Kind:         model.ActionInjectEndorsements,
		NewState:     newState,
		Endorsements: votes,
	}
}

func handleQuorumReached(state model.State, event model.Event) (model.State, model.Action) {
	latest := state.Level.LatestProposal
	if latest == nil || event.Candidate.Hash != latest.Block.Hash || event.Candidate.Round != state.Round.CurrentRound {
		return state, model.DoNothing(state)
	}

	newLevel := state.Level
	newLevel.Elected = &model.ElectedBlock{Proposal: *latest, EndorsementQC: event.Endorsements}

	newRound := model.RoundState{CurrentRound: state.Round.CurrentRound, Phase: model.PhaseIdle}
	newState := model.State{Global: state.Global, Level: newLevel, Round: newRound}
	return newState, model.DoNothing(newState)
}

func handleTimeoutEndOfRound(state model.State, endingRound int32) (model.State, model.Action) {
	if state.Level.LatestProposal != nil && state.Level.LatestProposal.Block.Round > endingRound {
		// A future proposal has already superseded this round.
		return state, model.DoNothing(state)
	}

	nextRound := endingRound + 1
	newRoundState := model.RoundState{CurrentRound: nextRound, Phase: model.PhaseIdle}
	newState := model.State{Global: state.Global, Level: state.Level, Round: newRoundState}

	info, isOwnProposer := state.Level.DelegateSlots.OwnSlotAt(nextRound)
	if !isOwnProposer {
		return newState, model.DoNothing(newState)
	}

	if state.Level.Endorsable != nil {
		toBake := model.BlockToBake{
			Kind:                model.BlockReproposal,
			Predecessor:         state.Level.Endorsable.Proposal.Predecessor,
			Round:               nextRound,
			Delegate:            info.Delegate,
			ConsensusOperations: state.Level.Endorsable.Prequorum.Preendorsements,
			PayloadHash:         state.Level.Endorsable.Prequorum.PayloadHash,
			PayloadRound:        state.Level.Endorsable.Prequorum.Round,
		}
		return newState, model.Action{Kind: model.ActionInjectBlock, NewState: newState, ToBake: toBake}
	}

	predecessor := model.BlockInfo{}
	if state.Level.LatestProposal != nil {
		predecessor = state.Level.LatestProposal.Predecessor
	}
	toBake := model.BlockToBake{
		Kind:        model.BlockFresh,
		Predecessor: predecessor,
		Round:       nextRound,
		Delegate:    info.Delegate,
	}
	return newState, model.Action{Kind: model.ActionInjectBlock, NewState: newState, ToBake: toBake}
}

func handleTimeoutTimeToBakeNextLevel(state model.State, atRound int32) (model.State, model.Action) {
	elected := state.Level.Elected
	if elected == nil {
		return state, model.DoNothing(state)
	}

	info, isOwnProposer := state.Level.NextLevelDelegateSlots.OwnSlotAt(atRound)
	if !isOwnProposer {
		return state, model.DoNothing(state)
	}

	if proposed := state.Level.NextLevelProposedRound; proposed != nil && *proposed == atRound {
		// Already proposed the next level's block at this round; avoid
		// re-forging/re-signing on every scheduler iteration until the level
		// bumps (the next-level wakeup otherwise keeps recomputing as ready).
		return state, model.DoNothing(state)
	}

	newLevel := state.Level
	proposed := atRound
	newLevel.NextLevelProposedRound = &proposed

	newState := model.State{Global: state.Global, Level: newLevel, Round: model.RoundState{CurrentRound: atRound, Phase: model.PhaseIdle}}

	toBake := model.BlockToBake{
		Kind:        model.BlockFresh,
		Predecessor: elected.Proposal.Block,
		Round:       atRound,
		Delegate:    info.Delegate,
	}
	return newState, model.Action{Kind: model.ActionInjectBlock, NewState: newState, ToBake: toBake}
}
