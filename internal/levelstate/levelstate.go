// Package levelstate persists the "monotone triple" (current level, locked
// round, endorsable payload) spec.md §3/§9 calls the only automaton state
// that must survive a crash. Encoding follows the teacher's consensus/store
// package, which RLP-encodes its persisted structures via go-ethereum/rlp;
// the write protocol (temp file, fsync, rename) matches
// internal/watermark and crypto/keystore.go.
package levelstate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"bakerd/internal/bakererr"
	"bakerd/internal/model"
)

// onDisk is the RLP-encoded record. Optional fields are represented with a
// present flag since RLP has no native notion of nil pointers for structs.
type onDisk struct {
	Level int32

	HasLockedRound bool
	LockedPayload  [32]byte
	LockedRound    int32

	HasEndorsable       bool
	EndorsableBlockHash [32]byte
	EndorsablePayload   [32]byte
	EndorsableRound     int32
	EndorsablePrequorumLevel int32
	EndorsablePrequorumRound int32
}

// Snapshot is the in-memory view of the persisted triple.
type Snapshot struct {
	Level      int32
	Locked     *model.LockedRound
	Endorsable *EndorsableRef
}

// EndorsableRef is a lightweight persisted reference to an endorsable
// payload: only the fields needed to detect monotonicity and to re-derive
// the full EndorsablePayload from the in-memory proposal cache the
// automaton already holds, since the full Proposal/Prequorum (including
// operation bytes) is not worth duplicating on disk.
type EndorsableRef struct {
	BlockHash       model.Hash
	PayloadHash     model.Hash
	Round           int32
	PrequorumLevel  int32
	PrequorumRound  int32
}

// Store is the crash-safe level-state store. Single-writer, matching
// spec.md §5 ("the scheduler task" owns State).
type Store struct {
	mu   sync.Mutex
	path string
	cur  Snapshot
}

// Open loads path if present, or starts at level 0 with nothing locked.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("levelstate: read %s: %w", path, err)
	}
	var d onDisk
	if err := rlp.DecodeBytes(raw, &d); err != nil {
		return nil, fmt.Errorf("levelstate: decode %s: %w", path, err)
	}
	s.cur = fromOnDisk(d)
	return s, nil
}

func fromOnDisk(d onDisk) Snapshot {
	snap := Snapshot{Level: d.Level}
	if d.HasLockedRound {
		snap.Locked = &model.LockedRound{PayloadHash: model.Hash(d.LockedPayload), Round: d.LockedRound}
	}
	if d.HasEndorsable {
		snap.Endorsable = &EndorsableRef{
			BlockHash:      model.Hash(d.EndorsableBlockHash),
			PayloadHash:    model.Hash(d.EndorsablePayload),
			Round:          d.EndorsableRound,
			PrequorumLevel: d.EndorsablePrequorumLevel,
			PrequorumRound: d.EndorsablePrequorumRound,
		}
	}
	return snap
}

func toOnDisk(snap Snapshot) onDisk {
	d := onDisk{Level: snap.Level}
	if snap.Locked != nil {
		d.HasLockedRound = true
		d.LockedPayload = [32]byte(snap.Locked.PayloadHash)
		d.LockedRound = snap.Locked.Round
	}
	if snap.Endorsable != nil {
		d.HasEndorsable = true
		d.EndorsableBlockHash = [32]byte(snap.Endorsable.BlockHash)
		d.EndorsablePayload = [32]byte(snap.Endorsable.PayloadHash)
		d.EndorsableRound = snap.Endorsable.Round
		d.EndorsablePrequorumLevel = snap.Endorsable.PrequorumLevel
		d.EndorsablePrequorumRound = snap.Endorsable.PrequorumRound
	}
	return d
}

// Current returns the in-memory snapshot. Safe for concurrent use.
func (s *Store) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Advance replaces the persisted triple, enforcing spec.md §3's
// monotonicity invariants within a level and clearing on a level bump. It
// is a no-op write when next is identical to the current snapshot, matching
// spec.md §9's "a write happens only when at least one component changes".
func (s *Store) Advance(next Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next.Level < s.cur.Level {
		return &bakererr.InvalidLockedValuesInvariant{
			Detail: fmt.Sprintf("level regressed from %d to %d", s.cur.Level, next.Level),
		}
	}
	if next.Level == s.cur.Level {
		if err := checkMonotone(s.cur, next); err != nil {
			return err
		}
	}

	if snapshotsEqual(s.cur, next) {
		return nil
	}

	if err := s.persist(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

// checkMonotone enforces spec.md §3 ("within a level, locked_round.round is
// monotonically non-decreasing; endorsable_payload.prequorum.round is
// monotonically non-decreasing") and flags the §9 open question explicitly:
// a transition from Some to None at the SAME level is treated as a hard
// error rather than silently accepted, per the spec's own caution that a
// race between two writes at the same level must not silently drop a
// locked round.
func checkMonotone(cur, next Snapshot) error {
	if cur.Locked != nil {
		if next.Locked == nil {
			return &bakererr.InvalidLockedValuesInvariant{
				Detail: "locked_round cleared at the same level without a level bump",
			}
		}
		if next.Locked.Round < cur.Locked.Round {
			return &bakererr.InvalidLockedValuesInvariant{
				Detail: fmt.Sprintf("locked_round regressed from %d to %d at level %d", cur.Locked.Round, next.Locked.Round, cur.Level),
			}
		}
	}
	if cur.Endorsable != nil {
		if next.Endorsable == nil {
			return &bakererr.InvalidLockedValuesInvariant{
				Detail: "endorsable_payload cleared at the same level without a level bump",
			}
		}
		if next.Endorsable.PrequorumRound < cur.Endorsable.PrequorumRound {
			return &bakererr.InvalidLockedValuesInvariant{
				Detail: fmt.Sprintf("endorsable_payload.prequorum.round regressed from %d to %d at level %d", cur.Endorsable.PrequorumRound, next.Endorsable.PrequorumRound, cur.Level),
			}
		}
	}
	if next.Locked != nil && next.Endorsable != nil && next.Locked.Round > next.Endorsable.PrequorumRound {
		return &bakererr.InvalidLockedValuesInvariant{
			Detail: "locked_round.round exceeds endorsable_payload.prequorum.round at the same level",
		}
	}
	return nil
}

func snapshotsEqual(a, b Snapshot) bool {
	return toOnDisk(a) == toOnDisk(b)
}

func (s *Store) persist(snap Snapshot) error {
	d := toOnDisk(snap)
	buf, err := rlp.EncodeToBytes(&d)
	if err != nil {
		return fmt.Errorf("levelstate: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("levelstate: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("levelstate: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("levelstate: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("levelstate: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("levelstate: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("levelstate: rename: %w", err)
	}
	return os.Chmod(s.path, 0o600)
}
