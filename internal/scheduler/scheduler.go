// Package scheduler is the single cooperative event loop of spec.md §4.6:
// it merges the head stream, the operation stream, the aggregator's
// prequorum/quorum signals, and a timer, converts whichever is ready first
// into an Event, calls automaton.Step, runs the result through
// internal/executor, and loops. This mirrors the teacher's own
// consensus/bft Engine.runRound, which select{}s over proposal/vote
// channels and a round timeout rather than spawning a goroutine per
// concern.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"bakerd/internal/aggregator"
	"bakerd/internal/automaton"
	"bakerd/internal/bakererr"
	"bakerd/internal/executor"
	"bakerd/internal/model"
	"bakerd/internal/noderpc"
	"bakerd/internal/roundtime"
)

// DefaultDelayIncrementCap bounds how far into the future the scheduler will
// arm a single timer, matching spec.md §4.6's "capped by a configured
// delay-increment" (very large or miscomputed round durations must not
// leave the loop sleeping indefinitely).
const DefaultDelayIncrementCap = 2 * time.Minute

// Scheduler drives one automaton to completion or fatal error.
type Scheduler struct {
	Node       noderpc.NodeRPC
	Executor   *executor.Executor
	Aggregator *aggregator.Aggregator
	RoundTime  *roundtime.Cache
	Logger     *slog.Logger

	DelayIncrementCap time.Duration

	state model.State
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Run drives the scheduler until ctx is cancelled or a fatal error occurs
// (spec.md §4.6: "if the head stream closes, fail the task with
// NodeConnectionLost").
func (s *Scheduler) Run(ctx context.Context, initial model.State) error {
	s.state = initial
	delayCap := s.DelayIncrementCap
	if delayCap <= 0 {
		delayCap = DefaultDelayIncrementCap
	}

	headCh, err := s.Node.MonitorHeads(ctx)
	if err != nil {
		return &bakererr.NodeConnectionLost{Stream: "heads", Cause: err}
	}
	opCh, err := s.Node.MonitorOperations(ctx)
	if err != nil {
		return &bakererr.NodeConnectionLost{Stream: "operations", Cause: err}
	}

	quorumCh := make(chan model.Event, 64)
	s.Executor.OnPrequorum = func(candidate model.BlockInfo, power int64, ops []model.SignedOperation) {
		s.pushEvent(ctx, quorumCh, model.Event{Kind: model.EventPrequorumReached, Candidate: candidate, Power: power, Preendorsements: ops})
	}
	s.Executor.OnQuorum = func(candidate model.BlockInfo, power int64, ops []model.SignedOperation) {
		s.pushEvent(ctx, quorumCh, model.Event{Kind: model.EventQuorumReached, Candidate: candidate, Power: power, Endorsements: ops})
	}

	for {
		timer, timerEvent := s.nextTimer(delayCap)

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case b, ok := <-headCh:
			if timer != nil {
				timer.Stop()
			}
			if !ok {
				return &bakererr.NodeConnectionLost{Stream: "heads"}
			}
			s.handleHead(ctx, b)

		case u, ok := <-opCh:
			if timer != nil {
				timer.Stop()
			}
			if !ok {
				s.logger().Warn("node_connection_lost", "stream", "operations")
				opCh, err = s.Node.MonitorOperations(ctx)
				if err != nil {
					return &bakererr.NodeConnectionLost{Stream: "operations", Cause: err}
				}
				continue
			}
			if u.Err == nil {
				s.Aggregator.Ingest(u.Operation)
			}

		case ev := <-quorumCh:
			if timer != nil {
				timer.Stop()
			}
			s.dispatch(ctx, ev)

		case tc := <-timerChan(timer):
			_ = tc
			if timerEvent != nil {
				s.dispatch(ctx, *timerEvent)
			}
		}
	}
}

func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (s *Scheduler) pushEvent(ctx context.Context, ch chan<- model.Event, ev model.Event) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

func (s *Scheduler) handleHead(ctx context.Context, head model.BlockInfo) {
	if head.Shell.Level > s.state.Level.CurrentLevel {
		s.logger().Info("new_head_with_increasing_level", "level", head.Shell.Level)
	}
	pred, err := s.Node.BlockInfo(ctx, head.Shell.Predecessor)
	if err != nil {
		s.logger().Warn("skipping_invalid_proposal", "reason", "predecessor fetch failed", "error", err)
		return
	}
	s.dispatch(ctx, model.Event{Kind: model.EventNewProposal, Proposal: model.Proposal{Block: head, Predecessor: pred}})
}

func (s *Scheduler) dispatch(ctx context.Context, ev model.Event) {
	next, action := automaton.Step(s.state, ev)
	s.state = next
	resultState, err := s.Executor.Execute(ctx, action)
	if err != nil {
		s.logger().Error("executor_error", "error", err)
		return
	}
	s.state = resultState
}

// nextTimer computes the earliest of the end-of-round and
// time-to-bake-next-level wakeups, per spec.md §4.6. It returns (nil, nil)
// when neither is defined, which select{}s as "block on streams only"
// thanks to a nil channel's select case never becoming ready.
func (s *Scheduler) nextTimer(delayCap time.Duration) (*time.Timer, *model.Event) {
	latest := s.state.Level.LatestProposal
	if latest == nil {
		return nil, nil
	}

	durations := roundtime.Durations(s.state.Global.Durations)
	endingRound := s.state.Round.CurrentRound
	endOfRound, err := s.RoundTime.TimestampOfRound(durations, latest.Predecessor.Shell.Timestamp, latest.Predecessor.Round, endingRound+1)

	var candidates []scheduledWakeup
	if err == nil {
		candidates = append(candidates, scheduledWakeup{
			at:    endOfRound,
			event: model.Event{Kind: model.EventTimeoutEndOfRound, EndingRound: endingRound},
		})
	}

	if elected := s.state.Level.Elected; elected != nil {
		if atRound, ok := earliestOwnProposerRound(s.state.Level.NextLevelDelegateSlots); ok {
			bakeAt, err := s.RoundTime.TimestampOfRound(durations, elected.Proposal.Block.Shell.Timestamp, elected.Proposal.Block.Round, atRound)
			if err == nil {
				candidates = append(candidates, scheduledWakeup{
					at:    bakeAt,
					event: model.Event{Kind: model.EventTimeoutTimeToBakeNextLevel, AtRound: atRound},
				})
			}
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	earliest := candidates[0]
	for _, c := range candidates[1:] {
		if c.at.Before(earliest.at) {
			earliest = c
		}
	}

	delay := time.Until(earliest.at)
	if delay < 0 {
		delay = 0
	}
	if delay > delayCap {
		delay = delayCap
	}
	return time.NewTimer(delay), &earliest.event
}

type scheduledWakeup struct {
	at    time.Time
	event model.Event
}

// earliestOwnProposerRound scans slots.AllSlotsByRound for the first round
// (>= 0) at which one of our own delegates is the proposer, per spec.md
// §4.6 ("the earliest own proposer slot at the next level >= 0").
func earliestOwnProposerRound(slots model.DelegateSlots) (int32, bool) {
	for round := int32(0); round < int32(len(slots.AllSlotsByRound)); round++ {
		if _, ok := slots.OwnSlotAt(round); ok {
			return round, true
		}
	}
	return 0, false
}
