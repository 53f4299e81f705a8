// Package executor is the side-effectful interpreter of the actions
// internal/automaton's pure Step function returns (spec.md §4.4): forging,
// signing, and injecting blocks and consensus operations, enforcing the
// high-watermark store before every signature, persisting level state, and
// fetching committees for UpdateToLevel/SynchronizeRound continuations. It
// is the only package that touches internal/noderpc, internal/signer,
// internal/watermark, internal/levelstate, internal/noncefile, or
// internal/extraops directly, keeping internal/automaton pure per spec.md
// §9.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"bakerd/internal/aggregator"
	"bakerd/internal/bakererr"
	"bakerd/internal/extraops"
	"bakerd/internal/levelstate"
	"bakerd/internal/model"
	"bakerd/internal/noderpc"
	"bakerd/internal/noncefile"
	"bakerd/internal/roundtime"
	"bakerd/internal/signer"
	"bakerd/internal/watermark"
	"bakerd/observability"
)

// CommitteeFetcher resolves the committee for a level; the executor uses it
// to service UpdateToLevel/SynchronizeRound continuations (spec.md §4.4).
type CommitteeFetcher func(ctx context.Context, level int32) (model.DelegateSlots, error)

// Executor wires every effectful collaborator the automaton's actions need.
// Fields are narrow interfaces/structs (spec.md §9) so tests can substitute
// noderpc.Fake and signer.Local.
type Executor struct {
	Node   noderpc.NodeRPC
	Signer signer.Signer

	Watermark  *watermark.Store
	LevelState *levelstate.Store
	Nonces     *noncefile.Store // optional; nil disables nonce registration
	ExtraOps   *extraops.Source // optional; nil means no external source configured
	Aggregator *aggregator.Aggregator
	RoundTime  *roundtime.Cache

	Logger *slog.Logger

	ChainID string

	// PerBlockVoteFile, when non-empty, is consulted for a per-level
	// liquidity-baking vote override (spec.md §6); an unreadable file falls
	// back to the configured default and logs, never fails the action.
	PerBlockVoteFile string

	// OnPrequorum / OnQuorum are invoked by the aggregator once a candidate
	// this executor registered crosses threshold; the scheduler supplies
	// these to turn the callback into a New_proposal-independent event it
	// feeds back through automaton.Step.
	OnPrequorum func(candidate model.BlockInfo, power int64, ops []model.SignedOperation)
	OnQuorum    func(candidate model.BlockInfo, power int64, ops []model.SignedOperation)
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute interprets action, performing its I/O, and returns the resulting
// state. Errors returned here are the fatal class of spec.md §7
// (NodeConnectionLost, InvalidLockedValuesInvariant); per-delegate and
// per-action recoverable failures are logged and swallowed per the policy
// table, matching the teacher's "one bad key does not stall the batch"
// handling.
func (e *Executor) Execute(ctx context.Context, action model.Action) (model.State, error) {
	switch action.Kind {
	case model.ActionDoNothing:
		return action.NewState, nil

	case model.ActionInjectBlock:
		return e.injectBlock(ctx, action)

	case model.ActionInjectPreendorsements:
		e.injectConsensusOps(ctx, action.NewState, action.Preendorsements, signer.KindPreendorsement, watermark.KindPreendorsement, model.OpPreendorsement)
		e.armPrequorumWait(action.NewState)
		return action.NewState, nil

	case model.ActionInjectEndorsements:
		e.injectConsensusOps(ctx, action.NewState, action.Endorsements, signer.KindEndorsement, watermark.KindEndorsement, model.OpEndorsement)
		e.armQuorumWait(action.NewState)
		return action.NewState, nil

	case model.ActionUpdateToLevel, model.ActionSynchronizeRound:
		return e.runContinuation(ctx, action)

	default:
		return action.NewState, nil
	}
}

func (e *Executor) runContinuation(ctx context.Context, action model.Action) (model.State, error) {
	cont := action.Continuation
	if cont == nil {
		return action.NewState, nil
	}

	level := action.NewState.Level
	round := action.NewState.Round
	global := action.NewState.Global

	if cont.TargetLevel != 0 {
		// Reuse the precomputed next-level committee when the target is
		// exactly current+1, per spec.md §4.4 ("skip fetch when the new
		// level equals current_level + 1").
		if cont.TargetLevel == level.CurrentLevel+1 && level.NextLevelDelegateSlots.AllDelegates != nil {
			level.DelegateSlots = level.NextLevelDelegateSlots
		} else {
			slots, err := e.Node.ValidatorsAtLevel(ctx, cont.TargetLevel)
			if err != nil {
				return action.NewState, &bakererr.NodeConnectionLost{Stream: "validators_at_level", Cause: err}
			}
			level.DelegateSlots = slots
		}
		nextSlots, err := e.Node.ValidatorsAtLevel(ctx, cont.TargetLevel+1)
		if err != nil {
			return action.NewState, &bakererr.NodeConnectionLost{Stream: "validators_at_level", Cause: err}
		}
		level.NextLevelDelegateSlots = nextSlots
		level.CurrentLevel = cont.TargetLevel
		round = model.RoundState{CurrentRound: 0, Phase: model.PhaseIdle}

		// spec.md §3: "On a level bump, locked_round, endorsable_payload,
		// elected_block are cleared and replaced from the new level."
		level.LatestProposal = nil
		level.LockedRound = nil
		level.Endorsable = nil
		level.Elected = nil
		level.NextLevelProposedRound = nil

		e.logger().Info("new_head_with_increasing_level", "level", cont.TargetLevel)

		// A level bump clears locked_round/endorsable_payload/elected_block
		// (spec.md §3's invariant); persist that cleared state so a crash
		// right after the bump cannot resurrect a stale locked round from
		// the previous level on restart.
		bumped := model.State{Global: global, Level: level, Round: round}
		if err := e.LevelState.Advance(snapshotFromState(bumped)); err != nil {
			return action.NewState, err
		}
	} else {
		e.logger().Info("synchronizing_round", "level", level.CurrentLevel)
	}

	ga := model.GlobalAndLevel{Global: global, Level: level, Round: round, Pending: action.Pending}
	nextState, nextAction := cont.Resume(ga)
	return e.Execute(ctx, combine(nextState, nextAction))
}

// combine stitches a continuation's resumed state into its returned action
// so Execute can recurse uniformly.
func combine(state model.State, action model.Action) model.Action {
	action.NewState = state
	return action
}

func (e *Executor) injectBlock(ctx context.Context, action model.Action) (model.State, error) {
	toBake := action.ToBake
	durations := action.NewState.Global.Durations

	ts, err := e.RoundTime.TimestampOfRound(roundtime.Durations(durations), toBake.Predecessor.Shell.Timestamp, toBake.Predecessor.Round, toBake.Round)
	if err != nil {
		e.logger().Error("proposal_slot", "error", err)
		return action.NewState, nil
	}

	var extra [][]byte
	if e.ExtraOps != nil {
		extra, err = e.ExtraOps.Fetch(ctx)
		if err != nil {
			e.logger().Warn("mempool_fetch_failed", "error", err)
			extra = nil
		}
	}

	vote := e.resolveLiquidityBakingVote(action.NewState.Global.Config.LiquidityBakingEscapeVote, action.NewState.Level.CurrentLevel)

	req := noderpc.ForgeRequest{
		Predecessor:           toBake.Predecessor,
		Timestamp:             ts.UnixNano(),
		Round:                 toBake.Round,
		PayloadRound:          toBake.PayloadRound,
		LiquidityBakingVote:   vote,
		UserActivatedUpgrades: action.NewState.Global.Config.UserActivatedUpgrades,
		MinimalFees:           action.NewState.Global.Config.MinimalFees,
	}
	if toBake.Kind == model.BlockReproposal {
		req.SimulationKind = noderpc.SimulationApply
		req.ReproposalPayload = toBake.PayloadHash
		req.OrderedPool = model.OperationPool{Operations: append(append([][]byte{}, toBake.Pool.Operations...), extra...)}
	} else {
		req.SimulationKind = noderpc.SimulationFilter
		req.OrderedPool = model.OperationPool{Operations: append(append([][]byte{}, toBake.Pool.Operations...), extra...)}
	}

	forged, err := e.Node.ForgeBlock(ctx, req)
	if err != nil {
		e.logger().Error("skipping_invalid_proposal", "error", err)
		return action.NewState, nil
	}

	if err := e.Watermark.MaySignAndRecord(toBake.Delegate.KeyHash, watermark.KindBlock, action.NewState.Level.CurrentLevel, toBake.Round); err != nil {
		var prev *bakererr.PreviouslySigned
		if errors.As(err, &prev) {
			e.logger().Warn("potential_double_baking", "delegate", toBake.Delegate.Alias, "level", prev.Level, "round", prev.Round)
		}
		observability.Consensus().RecordWatermarkRejection("block")
		return action.NewState, nil
	}

	sig, err := e.Signer.Sign(ctx, signer.Request{
		Delegate: toBake.Delegate,
		ChainID:  e.ChainID,
		Kind:     signer.KindBlock,
		Payload:  forged.UnsignedHeader,
	})
	if err != nil {
		e.logger().Error("signer_rejected", "delegate", toBake.Delegate.Alias, "error", err)
		return action.NewState, nil
	}
	signedHeader := append(append([]byte(nil), forged.UnsignedHeader...), sig...)

	if e.Nonces != nil && toBake.Kind == model.BlockFresh {
		// A real commitment carries the nonce; this is the bookkeeping
		// half only (spec.md §C supplemented feature), not nonce
		// generation itself.
		_ = e.Nonces.Record(forged.PayloadHash, sig)
	}

	if err := e.LevelState.Advance(snapshotFromState(action.NewState)); err != nil {
		return action.NewState, err
	}

	hash, err := e.Node.InjectBlock(ctx, signedHeader, forged.Operations)
	if err != nil {
		e.logger().Error("block_injection_failed", "error", err)
		return action.NewState, nil
	}
	e.logger().Info("block_injected", "hash", hash, "level", action.NewState.Level.CurrentLevel, "round", toBake.Round)
	observability.Consensus().RecordInjected("block")

	return action.NewState, nil
}

func (e *Executor) resolveLiquidityBakingVote(configured model.LiquidityBakingVote, level int32) model.LiquidityBakingVote {
	if e.PerBlockVoteFile == "" {
		return configured
	}
	raw, err := os.ReadFile(e.PerBlockVoteFile)
	if err != nil {
		e.logger().Warn("per_block_vote_file_unreadable", "error", err)
		return configured
	}
	var overrides map[string]string
	if err := json.Unmarshal(raw, &overrides); err != nil {
		e.logger().Warn("per_block_vote_file_invalid", "error", err)
		return configured
	}
	vote, ok := overrides[fmt.Sprintf("%d", level)]
	if !ok {
		return configured
	}
	switch vote {
	case "on":
		return model.LBVoteOn
	case "off":
		return model.LBVoteOff
	case "pass":
		return model.LBVotePass
	default:
		return configured
	}
}

// signedVote is one delegate's watermark-recorded, signed consensus
// operation, staged between the signing phase and the injection phase of
// injectConsensusOps.
type signedVote struct {
	delegate model.Delegate
	level    int32
	round    int32
	op       []byte
}

// injectConsensusOps implements spec.md §4.4's InjectPreendorsements /
// InjectEndorsements interpretation. It runs in three phases, matching
// spec.md §5's ordering requirement ("persistent level state is written
// strictly after the associated action's effects are durable ... and before
// RPC injection"): first check the watermark, sign, and record every own
// delegate's vote (durable before anything leaves the process); then
// persist the level state this action produced (locked_round/
// endorsable_payload changed by this same proposal/prequorum); only then
// inject the signed operations over the node RPC. Per-delegate failures in
// any phase are isolated so one bad key never stalls the batch.
func (e *Executor) injectConsensusOps(ctx context.Context, state model.State, votes []model.ConsensusVote, sKind signer.Kind, wKind watermark.Kind, opKind model.OperationKind) {
	var errs []error
	signed := make([]signedVote, 0, len(votes))

	for _, v := range votes {
		if err := e.Watermark.MaySignAndRecord(v.Delegate.KeyHash, wKind, v.Level, v.Round); err != nil {
			e.logger().Error("skipping_"+opKind.String(), "delegate", v.Delegate.Alias, "error", err)
			observability.Consensus().RecordWatermarkRejection(opKind.String())
			errs = append(errs, err)
			continue
		}

		payload := voteBytes(v, opKind)
		sig, err := e.Signer.Sign(ctx, signer.Request{
			Delegate: v.Delegate,
			ChainID:  e.ChainID,
			Kind:     sKind,
			Payload:  payload,
		})
		if err != nil {
			e.logger().Error("signer_rejected", "delegate", v.Delegate.Alias, "error", err)
			observability.Consensus().RecordInjectionError(opKind.String(), "signer_rejected")
			errs = append(errs, &bakererr.SignerRejected{Delegate: v.Delegate.Alias, Cause: err})
			continue
		}

		signedOp := append(append([]byte(nil), payload...), sig...)
		signed = append(signed, signedVote{delegate: v.Delegate, level: v.Level, round: v.Round, op: signedOp})
	}

	if err := e.LevelState.Advance(snapshotFromState(state)); err != nil {
		e.logger().Error("levelstate_advance_failed", "kind", opKind.String(), "error", err)
		errs = append(errs, err)
	}

	for _, sv := range signed {
		if _, err := e.Node.InjectOperation(ctx, sv.op); err != nil {
			e.logger().Error(opKind.String()+"_injection_failed", "delegate", sv.delegate.Alias, "error", err)
			observability.Consensus().RecordInjectionError(opKind.String(), "node_error")
			errs = append(errs, err)
			continue
		}
		e.logger().Info(opKind.String()+"_injected", "delegate", sv.delegate.Alias, "level", sv.level, "round", sv.round)
		observability.Consensus().RecordInjected(opKind.String())
	}

	if len(errs) > 0 {
		e.logger().Warn("batch_completed_with_errors", "kind", opKind.String(), "error", errors.Join(errs...))
	}
}

func voteBytes(v model.ConsensusVote, kind model.OperationKind) []byte {
	buf, _ := json.Marshal(struct {
		Branch      model.Hash
		Level       int32
		Round       int32
		PayloadHash model.Hash
		Kind        string
	}{v.BranchBlock, v.Level, v.Round, v.PayloadHash, kind.String()})
	return buf
}

func (e *Executor) armPrequorumWait(state model.State) {
	latest := state.Level.LatestProposal
	if latest == nil || e.Aggregator == nil {
		return
	}
	e.Aggregator.Register(aggregator.Candidate{
		Level:       latest.Block.Shell.Level,
		Round:       latest.Block.Round,
		PayloadHash: latest.Block.PayloadHash,
		Threshold:   state.Global.ConsensusThreshold,
		VotingPower: votingPowerFromCommittee(state.Level.DelegateSlots),
		Fire: func(power int64, ops []model.SignedOperation) {
			if e.OnPrequorum != nil {
				e.OnPrequorum(latest.Block, power, ops)
			}
		},
	})
}

func (e *Executor) armQuorumWait(state model.State) {
	latest := state.Level.LatestProposal
	if latest == nil || e.Aggregator == nil {
		return
	}
	e.Aggregator.Register(aggregator.Candidate{
		Level:       latest.Block.Shell.Level,
		Round:       latest.Block.Round,
		PayloadHash: latest.Block.PayloadHash,
		Threshold:   state.Global.ConsensusThreshold,
		VotingPower: votingPowerFromCommittee(state.Level.DelegateSlots),
		Fire: func(power int64, ops []model.SignedOperation) {
			if e.OnQuorum != nil {
				e.OnQuorum(latest.Block, power, ops)
			}
		},
	})
}

func votingPowerFromCommittee(slots model.DelegateSlots) aggregator.VotingPowerFunc {
	return func(slot int32) (int64, bool) {
		info, ok := slots.AllDelegates[slot]
		if !ok {
			return 0, false
		}
		return info.VotingPower, true
	}
}

func snapshotFromState(state model.State) levelstate.Snapshot {
	snap := levelstate.Snapshot{Level: state.Level.CurrentLevel}
	if state.Level.LockedRound != nil {
		lr := *state.Level.LockedRound
		snap.Locked = &lr
	}
	if state.Level.Endorsable != nil {
		snap.Endorsable = &levelstate.EndorsableRef{
			BlockHash:      state.Level.Endorsable.Proposal.Block.Hash,
			PayloadHash:    state.Level.Endorsable.Prequorum.PayloadHash,
			Round:          state.Level.Endorsable.Proposal.Block.Round,
			PrequorumLevel: state.Level.Endorsable.Prequorum.Level,
			PrequorumRound: state.Level.Endorsable.Prequorum.Round,
		}
	}
	return snap
}
