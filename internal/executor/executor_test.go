package executor

import (
	"context"
	"testing"
	"time"

	"bakerd/crypto"
	"bakerd/internal/aggregator"
	"bakerd/internal/levelstate"
	"bakerd/internal/model"
	"bakerd/internal/noderpc"
	"bakerd/internal/roundtime"
	"bakerd/internal/signer"
	"bakerd/internal/watermark"
)

func newTestExecutor(t *testing.T) (*Executor, *noderpc.Fake, *signer.Local, model.Delegate) {
	t.Helper()

	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	var keyHash model.KeyHash
	copy(keyHash[:], priv.Bytes())
	delegate := model.Delegate{Alias: "baker-1", KeyHash: keyHash}

	localSigner := signer.NewLocal()
	localSigner.AddKey(keyHash, priv)

	fake := noderpc.NewFake("test-chain")

	dir := t.TempDir()
	wmStore, err := watermark.Open(dir+"/watermarks.json", "test-chain", false)
	if err != nil {
		t.Fatalf("watermark.Open: %v", err)
	}
	lvlStore, err := levelstate.Open(dir + "/level.rlp")
	if err != nil {
		t.Fatalf("levelstate.Open: %v", err)
	}

	exec := &Executor{
		Node:       fake,
		Signer:     localSigner,
		Watermark:  wmStore,
		LevelState: lvlStore,
		Aggregator: aggregator.New(10),
		RoundTime:  roundtime.NewCache(),
		ChainID:    "test-chain",
	}
	return exec, fake, localSigner, delegate
}

func TestInjectBlockSignsAndInjects(t *testing.T) {
	exec, fake, _, delegate := newTestExecutor(t)

	pred := model.BlockInfo{Hash: model.Hash{1}, Round: 0, Shell: model.ShellHeader{Level: 0, Timestamp: time.Unix(1000, 0)}}
	state := model.State{
		Global: model.GlobalState{Durations: model.RoundDurations{First: 2 * time.Second, Increment: time.Second}},
		Level:  model.LevelState{CurrentLevel: 1},
		Round:  model.RoundState{CurrentRound: 0},
	}
	action := model.Action{
		Kind:     model.ActionInjectBlock,
		NewState: state,
		ToBake: model.BlockToBake{
			Kind:        model.BlockFresh,
			Predecessor: pred,
			Round:       0,
			Delegate:    delegate,
		},
	}

	if _, err := exec.Execute(context.Background(), action); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(fake.InjectedBlocks) != 1 {
		t.Fatalf("expected 1 injected block, got %d", len(fake.InjectedBlocks))
	}
}

func TestInjectBlockVetoedByWatermark(t *testing.T) {
	exec, fake, _, delegate := newTestExecutor(t)

	pred := model.BlockInfo{Hash: model.Hash{1}, Round: 0, Shell: model.ShellHeader{Level: 0, Timestamp: time.Unix(1000, 0)}}
	state := model.State{
		Global: model.GlobalState{Durations: model.RoundDurations{First: time.Second, Increment: time.Second}},
		Level:  model.LevelState{CurrentLevel: 7},
		Round:  model.RoundState{CurrentRound: 2},
	}
	action := model.Action{
		Kind:     model.ActionInjectBlock,
		NewState: state,
		ToBake: model.BlockToBake{
			Kind:        model.BlockFresh,
			Predecessor: pred,
			Round:       2,
			Delegate:    delegate,
		},
	}

	if _, err := exec.Execute(context.Background(), action); err != nil {
		t.Fatalf("first injection: %v", err)
	}
	if len(fake.InjectedBlocks) != 1 {
		t.Fatalf("expected 1 injected block after first attempt, got %d", len(fake.InjectedBlocks))
	}

	// Simulate a crash-restart replay of the same (level, round): the
	// watermark must veto the second attempt (spec.md §8 scenario 4).
	if _, err := exec.Execute(context.Background(), action); err != nil {
		t.Fatalf("second injection should not error, just be vetoed: %v", err)
	}
	if len(fake.InjectedBlocks) != 1 {
		t.Fatalf("expected watermark to veto replay, still only 1 injected block, got %d", len(fake.InjectedBlocks))
	}
}

func TestInjectEndorsementsPerDelegateIsolation(t *testing.T) {
	exec, fake, localSigner, delegate := newTestExecutor(t)
	_ = localSigner

	var missingKeyHash model.KeyHash
	missingKeyHash[0] = 0xFF
	missingDelegate := model.Delegate{Alias: "unregistered", KeyHash: missingKeyHash}

	state := model.State{
		Global: model.GlobalState{ConsensusThreshold: 100},
		Level: model.LevelState{
			CurrentLevel: 3,
			LatestProposal: &model.Proposal{
				Block: model.BlockInfo{Hash: model.Hash{9}, Shell: model.ShellHeader{Level: 3}, PayloadHash: model.Hash{8}, Round: 0},
			},
		},
	}
	votes := []model.ConsensusVote{
		{Delegate: delegate, Slot: 0, Level: 3, Round: 0, PayloadHash: model.Hash{8}},
		{Delegate: missingDelegate, Slot: 1, Level: 3, Round: 0, PayloadHash: model.Hash{8}},
	}
	action := model.Action{Kind: model.ActionInjectEndorsements, NewState: state, Endorsements: votes}

	if _, err := exec.Execute(context.Background(), action); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(fake.InjectedOperations) != 1 {
		t.Fatalf("expected exactly 1 successful injection (one delegate unregistered), got %d", len(fake.InjectedOperations))
	}
}
