// Package aggregator implements the operation aggregator of spec.md §4.5: it
// watches a stream of consensus operations, groups them by
// (level, round, payload_hash), sums voting power per unique slot, and fires
// a registered candidate's callback exactly once when the cumulative power
// crosses a threshold. Reaping of stale levels is periodic and
// counter-driven rather than per-event, per spec.md §9's "Aggregator cleanup
// cadence" note, mirroring the teacher's own batched-cleanup style in
// consensus/bft's vote bookkeeping.
package aggregator

import (
	"sync"

	"bakerd/internal/model"
)

// VotingPowerFunc resolves a slot's voting power for the committee the
// candidate was registered against. Per spec.md §9's open question, a slot
// absent from the committee mapping (operation from a stale level) is
// treated as an explicit filter yielding zero power, not an assertion
// failure — so a delayed mempool item never crashes the aggregator.
type VotingPowerFunc func(slot int32) (power int64, present bool)

// OnThreshold is invoked exactly once, the first time a candidate's
// cumulative voting power reaches its threshold.
type OnThreshold func(power int64, ops []model.SignedOperation)

// Candidate is a (level, round, payload_hash) the caller wants to be
// notified about once enough distinct slots have voted for it.
type Candidate struct {
	Level       int32
	Round       int32
	PayloadHash model.Hash

	Threshold   int64
	VotingPower VotingPowerFunc
	Fire        OnThreshold
}

type key struct {
	level       int32
	round       int32
	payloadHash model.Hash
}

type accumulator struct {
	candidate *Candidate
	bySlot    map[int32]model.SignedOperation
	power     int64
	fired     bool
}

// Aggregator is the mutable accumulator table. One instance serves both
// preendorsement and endorsement candidates; callers distinguish by
// registering on the operation Kind they care about via Candidate.
type Aggregator struct {
	mu sync.Mutex

	candidates map[key]*accumulator

	highestLevel int32
	// preservedLevels and cleanupCountdown implement the periodic reaping
	// cadence of spec.md §4.5/§9: every ingested operation decrements the
	// countdown; on reaching zero, entries at level <= highest-preserved
	// are dropped and the countdown resets to preservedLevels/10.
	preservedLevels int32
	cleanupCountdown int32
}

// New builds an Aggregator that reaps entries older than preservedLevels
// behind the highest level observed so far.
func New(preservedLevels int32) *Aggregator {
	if preservedLevels <= 0 {
		preservedLevels = 2
	}
	return &Aggregator{
		candidates:       map[key]*accumulator{},
		preservedLevels:  preservedLevels,
		cleanupCountdown: cleanupCadence(preservedLevels),
	}
}

func cleanupCadence(preservedLevels int32) int32 {
	c := preservedLevels / 10
	if c <= 0 {
		c = 1
	}
	return c
}

// Register adds or replaces a watched candidate. Replacing an existing
// (level, round, payload_hash) resets its accumulated power, matching
// spec.md §4.5's "a candidate remains live until explicitly cancelled or
// replaced".
func (a *Aggregator) Register(c Candidate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := key{level: c.Level, round: c.Round, payloadHash: c.PayloadHash}
	a.candidates[k] = &accumulator{candidate: &c, bySlot: map[int32]model.SignedOperation{}}
}

// Cancel removes a watched candidate without firing it.
func (a *Aggregator) Cancel(level, round int32, payloadHash model.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.candidates, key{level: level, round: round, payloadHash: payloadHash})
}

// Ingest processes one operation from the mempool stream: if it matches a
// registered candidate's (level, round, payload_hash), the op's slot is
// added (deduplicated by slot per spec.md §4.3's tie-break rule), the
// candidate's power is resummed, and Fire is invoked exactly once the first
// time the threshold is crossed.
func (a *Aggregator) Ingest(op model.SignedOperation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if op.Level > a.highestLevel {
		a.highestLevel = op.Level
	}

	k := key{level: op.Level, round: op.Round, payloadHash: op.PayloadHash}
	acc, ok := a.candidates[k]
	if ok && !acc.fired {
		if power, present := acc.candidate.VotingPower(op.Slot); present {
			if _, dup := acc.bySlot[op.Slot]; !dup {
				acc.bySlot[op.Slot] = op
				acc.power += power
			}
			if acc.power >= acc.candidate.Threshold {
				acc.fired = true
				ops := make([]model.SignedOperation, 0, len(acc.bySlot))
				for _, o := range acc.bySlot {
					ops = append(ops, o)
				}
				acc.candidate.Fire(acc.power, ops)
			}
		}
	}

	a.cleanupCountdown--
	if a.cleanupCountdown <= 0 {
		a.reap()
		a.cleanupCountdown = cleanupCadence(a.preservedLevels)
	}
}

// reap drops accumulators for levels at or below highest-preservedLevels.
// Caller must hold a.mu.
func (a *Aggregator) reap() {
	floor := a.highestLevel - a.preservedLevels
	for k := range a.candidates {
		if k.level <= floor {
			delete(a.candidates, k)
		}
	}
}

// Power reports the current accumulated power for a candidate, for tests
// and diagnostics.
func (a *Aggregator) Power(level, round int32, payloadHash model.Hash) (power int64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.candidates[key{level: level, round: round, payloadHash: payloadHash}]
	if !ok {
		return 0, false
	}
	return acc.power, true
}
