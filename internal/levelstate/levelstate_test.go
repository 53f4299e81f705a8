package levelstate

import (
	"errors"
	"path/filepath"
	"testing"

	"bakerd/internal/bakererr"
	"bakerd/internal/model"
)

func TestAdvanceWithinLevelMustNotDecreaseLockedRound(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "level.rlp"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	snap1 := Snapshot{Level: 10, Locked: &model.LockedRound{PayloadHash: model.Hash{1}, Round: 2}}
	if err := store.Advance(snap1); err != nil {
		t.Fatalf("first advance: %v", err)
	}

	regressed := Snapshot{Level: 10, Locked: &model.LockedRound{PayloadHash: model.Hash{1}, Round: 1}}
	if err := store.Advance(regressed); err == nil {
		t.Fatal("expected error on locked_round regression")
	} else {
		var inv *bakererr.InvalidLockedValuesInvariant
		if !errors.As(err, &inv) {
			t.Fatalf("expected InvalidLockedValuesInvariant, got %T: %v", err, err)
		}
	}

	advanced := Snapshot{Level: 10, Locked: &model.LockedRound{PayloadHash: model.Hash{1}, Round: 3}}
	if err := store.Advance(advanced); err != nil {
		t.Fatalf("monotone advance should succeed: %v", err)
	}
}

func TestAdvanceClearsOnLevelBump(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "level.rlp"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	locked := Snapshot{Level: 5, Locked: &model.LockedRound{PayloadHash: model.Hash{9}, Round: 1}}
	if err := store.Advance(locked); err != nil {
		t.Fatalf("advance: %v", err)
	}

	next := Snapshot{Level: 6}
	if err := store.Advance(next); err != nil {
		t.Fatalf("level bump should clear locked_round without error: %v", err)
	}
	if store.Current().Locked != nil {
		t.Fatal("locked_round should be nil after a level bump")
	}
}

func TestAdvanceRejectsClearingWithinSameLevel(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "level.rlp"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	locked := Snapshot{Level: 7, Locked: &model.LockedRound{PayloadHash: model.Hash{2}, Round: 0}}
	if err := store.Advance(locked); err != nil {
		t.Fatalf("advance: %v", err)
	}

	cleared := Snapshot{Level: 7}
	if err := store.Advance(cleared); err == nil {
		t.Fatal("clearing locked_round at the same level must be rejected")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "level.rlp")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	snap := Snapshot{
		Level:  42,
		Locked: &model.LockedRound{PayloadHash: model.Hash{7, 7}, Round: 4},
		Endorsable: &EndorsableRef{
			BlockHash:      model.Hash{8},
			PayloadHash:    model.Hash{7, 7},
			Round:          4,
			PrequorumLevel: 42,
			PrequorumRound: 4,
		},
	}
	if err := store.Advance(snap); err != nil {
		t.Fatalf("advance: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Current()
	if got.Level != snap.Level {
		t.Fatalf("level mismatch: got %d want %d", got.Level, snap.Level)
	}
	if got.Locked == nil || *got.Locked != *snap.Locked {
		t.Fatalf("locked mismatch: got %+v want %+v", got.Locked, snap.Locked)
	}
	if got.Endorsable == nil || *got.Endorsable != *snap.Endorsable {
		t.Fatalf("endorsable mismatch: got %+v want %+v", got.Endorsable, snap.Endorsable)
	}
}
