package automaton

import (
	"testing"

	"bakerd/internal/model"
)

func delegate(id byte) model.Delegate {
	var kh model.KeyHash
	kh[0] = id
	return model.Delegate{Alias: "baker", KeyHash: kh}
}

func baseState(level int32) model.State {
	slots := model.DelegateSlots{
		OwnDelegates: map[int32]model.SlotInfo{
			0: {Delegate: delegate(1), Slots: []int32{0}, VotingPower: 1},
		},
		AllDelegates: map[int32]model.SlotInfo{
			0: {Delegate: delegate(1), Slots: []int32{0}, VotingPower: 1},
		},
		AllSlotsByRound: []int32{0, 0, 0, 0},
	}
	return model.State{
		Global: model.GlobalState{ChainID: "test"},
		Level: model.LevelState{
			CurrentLevel:  level,
			DelegateSlots: slots,
		},
		Round: model.RoundState{CurrentRound: 0, Phase: model.PhaseIdle},
	}
}

func predecessor(level int32) model.BlockInfo {
	return model.BlockInfo{
		Hash:  model.Hash{byte(level), 0xAA},
		Shell: model.ShellHeader{Level: level},
	}
}

func proposalAt(level, round int32, payload model.Hash, pred model.BlockInfo) model.Proposal {
	return model.Proposal{
		Block: model.BlockInfo{
			Hash:        model.Hash{byte(level), byte(round), payload[0]},
			Shell:       model.ShellHeader{Level: level, Fitness: model.Fitness{byte(round)}},
			PayloadHash: payload,
			Round:       round,
		},
		Predecessor: pred,
	}
}

func TestHappyProposalInjectsPreendorsements(t *testing.T) {
	state := baseState(1)
	pred := predecessor(0)
	payload := model.Hash{0x70}
	p := proposalAt(1, 0, payload, pred)

	next, action := Step(state, model.Event{Kind: model.EventNewProposal, Proposal: p})

	if action.Kind != model.ActionInjectPreendorsements {
		t.Fatalf("expected InjectPreendorsements, got %s", action.Kind)
	}
	if len(action.Preendorsements) != 1 {
		t.Fatalf("expected 1 vote for 1 own slot, got %d", len(action.Preendorsements))
	}
	if next.Level.LockedRound == nil || next.Level.LockedRound.PayloadHash != payload {
		t.Fatalf("expected locked_round set to payload hash, got %+v", next.Level.LockedRound)
	}
	if next.Round.Phase != model.PhaseAwaitingPreendorsements {
		t.Fatalf("expected phase awaiting_preendorsements, got %s", next.Round.Phase)
	}
}

func TestPrequorumThenQuorumElectsBlock(t *testing.T) {
	state := baseState(1)
	pred := predecessor(0)
	payload := model.Hash{0xAB}
	p := proposalAt(1, 0, payload, pred)

	state, action := Step(state, model.Event{Kind: model.EventNewProposal, Proposal: p})
	if action.Kind != model.ActionInjectPreendorsements {
		t.Fatalf("setup: expected InjectPreendorsements, got %s", action.Kind)
	}

	candidate := state.Level.LatestProposal.Block
	state, action = Step(state, model.Event{
		Kind:      model.EventPrequorumReached,
		Candidate: candidate,
		Power:     1,
	})
	if action.Kind != model.ActionInjectEndorsements {
		t.Fatalf("expected InjectEndorsements after prequorum, got %s", action.Kind)
	}
	if state.Level.Endorsable == nil {
		t.Fatal("expected endorsable_payload to be set")
	}

	state, action = Step(state, model.Event{
		Kind:      model.EventQuorumReached,
		Candidate: candidate,
		Power:     1,
	})
	if action.Kind != model.ActionDoNothing {
		t.Fatalf("expected DoNothing after quorum (bake happens on next timeout), got %s", action.Kind)
	}
	if state.Level.Elected == nil || state.Level.Elected.Proposal.Block.PayloadHash != payload {
		t.Fatalf("expected elected_block set to payload hash %v, got %+v", payload, state.Level.Elected)
	}
}

func TestReproposalOnTimeoutUsesEndorsablePayload(t *testing.T) {
	state := baseState(5)
	pred := predecessor(4)
	payload := model.Hash{0xCD}
	p := proposalAt(5, 2, payload, pred)

	state, _ = Step(state, model.Event{Kind: model.EventNewProposal, Proposal: p})
	candidate := state.Level.LatestProposal.Block
	state, _ = Step(state, model.Event{Kind: model.EventPrequorumReached, Candidate: candidate, Power: 1})

	// Round timer elapses from round 2 into round 3 with no competing
	// proposal; our own delegate is the proposer at every round in this
	// fixture's committee table.
	state.Round.CurrentRound = 2
	_, action := Step(state, model.Event{Kind: model.EventTimeoutEndOfRound, EndingRound: 2})

	if action.Kind != model.ActionInjectBlock {
		t.Fatalf("expected InjectBlock, got %s", action.Kind)
	}
	if action.ToBake.Kind != model.BlockReproposal {
		t.Fatalf("expected Reproposal kind, got %v", action.ToBake.Kind)
	}
	if action.ToBake.PayloadHash != payload {
		t.Fatalf("expected reproposal payload hash %v, got %v", payload, action.ToBake.PayloadHash)
	}
	if action.ToBake.Round != 3 {
		t.Fatalf("expected round 3, got %d", action.ToBake.Round)
	}
}

// TestBranchSwitchOnHigherFitness reproduces spec.md §8 scenario 3: a
// higher-fitness competing branch becomes latest_proposal, but locked_round
// is preserved since there is no new preendorsement yet on the new branch
// (B's payload_round does not exceed the round already locked on A).
func TestBranchSwitchOnHigherFitness(t *testing.T) {
	state := baseState(5)
	predA := predecessor(4)
	predA.Hash = model.Hash{0xA0}
	payloadA := model.Hash{0xA1}
	a := proposalAt(5, 1, payloadA, predA)
	a.Block.Shell.Fitness = model.Fitness{1}

	state, action := Step(state, model.Event{Kind: model.EventNewProposal, Proposal: a})
	if action.Kind != model.ActionInjectPreendorsements {
		t.Fatalf("setup: expected InjectPreendorsements for A, got %s", action.Kind)
	}
	lockedBefore := *state.Level.LockedRound

	predB := predecessor(4)
	predB.Hash = model.Hash{0xB0}
	payloadB := model.Hash{0xB1}
	b := proposalAt(5, 1, payloadB, predB)
	b.Block.Shell.Fitness = model.Fitness{2} // strictly greater than A's fitness

	next, action := Step(state, model.Event{Kind: model.EventNewProposal, Proposal: b})

	if next.Level.LatestProposal == nil || next.Level.LatestProposal.Block.PayloadHash != payloadB {
		t.Fatalf("expected branch switch to B, got %+v", next.Level.LatestProposal)
	}
	if action.Kind != model.ActionDoNothing {
		t.Fatalf("expected DoNothing (no preendorsement yet on B), got %s", action.Kind)
	}
	if next.Level.LockedRound == nil || *next.Level.LockedRound != lockedBefore {
		t.Fatalf("expected locked_round preserved at %+v, got %+v", lockedBefore, next.Level.LockedRound)
	}
}

func TestStaleProposalIsIgnored(t *testing.T) {
	state := baseState(5)
	state.Round.CurrentRound = 3
	pred := predecessor(4)
	stale := proposalAt(5, 1, model.Hash{0xEE}, pred) // round 1 < current round 3, no prequorum

	next, action := Step(state, model.Event{Kind: model.EventNewProposal, Proposal: stale})
	if action.Kind != model.ActionDoNothing {
		t.Fatalf("expected DoNothing for stale proposal, got %s", action.Kind)
	}
	if next.Level.LatestProposal != nil {
		t.Fatal("stale proposal must not update latest_proposal")
	}
}

func TestFutureLevelTriggersUpdateToLevel(t *testing.T) {
	state := baseState(5)
	pred := predecessor(5)
	future := proposalAt(6, 0, model.Hash{0xFF}, pred)

	_, action := Step(state, model.Event{Kind: model.EventNewProposal, Proposal: future})
	if action.Kind != model.ActionUpdateToLevel {
		t.Fatalf("expected UpdateToLevel, got %s", action.Kind)
	}
	if action.Continuation == nil {
		t.Fatal("expected a continuation to resume classification at the new level")
	}
}
