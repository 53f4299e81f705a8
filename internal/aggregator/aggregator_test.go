package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bakerd/internal/model"
)

func committeePower(present map[int32]int64) VotingPowerFunc {
	return func(slot int32) (int64, bool) {
		p, ok := present[slot]
		return p, ok
	}
}

func TestThresholdFiresExactlyOnce(t *testing.T) {
	a := New(10)
	payload := model.Hash{1}

	fired := 0
	var lastPower int64
	a.Register(Candidate{
		Level: 5, Round: 0, PayloadHash: payload,
		Threshold:   3,
		VotingPower: committeePower(map[int32]int64{0: 1, 1: 1, 2: 1, 3: 1}),
		Fire: func(power int64, ops []model.SignedOperation) {
			fired++
			lastPower = power
		},
	})

	for slot := int32(0); slot < 3; slot++ {
		a.Ingest(model.SignedOperation{Slot: slot, Level: 5, Round: 0, PayloadHash: payload})
	}
	if fired != 1 {
		t.Fatalf("expected exactly one fire, got %d", fired)
	}
	if lastPower != 3 {
		t.Fatalf("expected power 3 at fire time, got %d", lastPower)
	}

	// A fourth operation after quorum must not re-fire.
	a.Ingest(model.SignedOperation{Slot: 3, Level: 5, Round: 0, PayloadHash: payload})
	if fired != 1 {
		t.Fatalf("expected no re-fire after threshold, got %d fires", fired)
	}
}

func TestDuplicateSlotNotDoubleCounted(t *testing.T) {
	a := New(10)
	payload := model.Hash{2}
	fired := 0
	a.Register(Candidate{
		Level: 1, Round: 0, PayloadHash: payload,
		Threshold:   2,
		VotingPower: committeePower(map[int32]int64{0: 2}),
		Fire:        func(int64, []model.SignedOperation) { fired++ },
	})
	a.Ingest(model.SignedOperation{Slot: 0, Level: 1, Round: 0, PayloadHash: payload})
	a.Ingest(model.SignedOperation{Slot: 0, Level: 1, Round: 0, PayloadHash: payload})

	power, ok := a.Power(1, 0, payload)
	require.True(t, ok, "expected candidate to exist")
	require.Equal(t, int64(2), power, "duplicate slot should not be double counted")
	require.Equal(t, 1, fired, "expected exactly one fire")
}

func TestStaleSlotFilteredNotAsserted(t *testing.T) {
	a := New(10)
	payload := model.Hash{3}
	a.Register(Candidate{
		Level: 1, Round: 0, PayloadHash: payload,
		Threshold:   1,
		VotingPower: committeePower(map[int32]int64{0: 1}),
		Fire:        func(int64, []model.SignedOperation) {},
	})

	// Slot 99 is not part of the committee mapping; must be silently
	// filtered rather than panicking or crashing the aggregator.
	a.Ingest(model.SignedOperation{Slot: 99, Level: 1, Round: 0, PayloadHash: payload})

	power, ok := a.Power(1, 0, payload)
	require.True(t, ok)
	require.Zero(t, power, "expected zero power after stale-slot op")
}

func TestReapDropsOldLevels(t *testing.T) {
	a := New(2) // preservedLevels=2, cadence=1 (since 2/10 rounds to 0 -> clamped to 1)
	payload := model.Hash{4}
	a.Register(Candidate{
		Level: 1, Round: 0, PayloadHash: payload,
		Threshold:   100,
		VotingPower: committeePower(map[int32]int64{0: 1}),
		Fire:        func(int64, []model.SignedOperation) {},
	})

	// Push the highest observed level far enough ahead that level 1 falls
	// outside the preserved window, forcing a reap on each ingest.
	for l := int32(1); l <= 10; l++ {
		a.Ingest(model.SignedOperation{Slot: 0, Level: l, Round: 0, PayloadHash: model.Hash{5}})
	}

	if _, ok := a.Power(1, 0, payload); ok {
		t.Fatal("expected level 1 candidate to be reaped once sufficiently old")
	}
}
