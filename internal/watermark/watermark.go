// Package watermark implements the high-watermark store of spec.md §4.2: a
// crash-safe, per-(chain, key hash) record of the highest (level, round) at
// which a delegate has signed a block, preendorsement, or endorsement. The
// durable-write pattern (write to a temp file in the same directory, fsync,
// rename over the target) is the same one the teacher uses in
// crypto/keystore.go's SaveToKeystore for its Ethereum-v3 keystore writes.
package watermark

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"bakerd/internal/bakererr"
	"bakerd/internal/model"
)

// Kind distinguishes the three record slots a delegate may hold per chain.
type Kind uint8

const (
	KindBlock Kind = iota
	KindPreendorsement
	KindEndorsement
)

func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindPreendorsement:
		return "preendorsement"
	case KindEndorsement:
		return "endorsement"
	default:
		return "unknown"
	}
}

// record is one delegate's three watermarks for a single chain.
type record struct {
	Block          *model.LevelRound `json:"block,omitempty"`
	Preendorsement *model.LevelRound `json:"preendorsement,omitempty"`
	Endorsement    *model.LevelRound `json:"endorsement,omitempty"`
}

func (r *record) slot(k Kind) **model.LevelRound {
	switch k {
	case KindPreendorsement:
		return &r.Preendorsement
	case KindEndorsement:
		return &r.Endorsement
	default:
		return &r.Block
	}
}

// onDiskFile is the JSON document persisted at Store.path.
type onDiskFile struct {
	Chain   string                         `json:"chain"`
	Records map[string]*record             `json:"records"`
}

// Store is the crash-safe high-watermark store. One Store instance owns one
// file and must not be shared across processes; the scheduler is the single
// writer per spec.md §5.
type Store struct {
	mu    sync.Mutex
	path  string
	chain string
	data  map[string]*record // keyed by model.KeyHash.String()
	force bool
}

// Open loads path if it exists, or starts empty. force is the global
// forced-sign override: MaySignAndRecord lets through a request that
// MaySign would veto, and the stored record is never lowered, so subsequent
// checks remain monotone. MaySign itself does not consult force.
func Open(path, chain string, force bool) (*Store, error) {
	s := &Store{path: path, chain: chain, data: map[string]*record{}, force: force}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("watermark: read %s: %w", path, err)
	}
	var onDisk onDiskFile
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return nil, fmt.Errorf("watermark: decode %s: %w", path, err)
	}
	if onDisk.Chain != "" && onDisk.Chain != chain {
		return nil, fmt.Errorf("watermark: file %s belongs to chain %q, not %q", path, onDisk.Chain, chain)
	}
	if onDisk.Records != nil {
		s.data = onDisk.Records
	}
	return s, nil
}

// MaySign reports whether key may sign kind at (level, round): spec.md
// §4.2's contract is "no prior record, or the prior record is strictly less
// than (level, round)". The force override is intentionally NOT consulted
// here; MaySignAndRecord is where a forced store bypasses a false result.
func (s *Store) MaySign(key model.KeyHash, kind Kind, level, round int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maySignLocked(key, kind, level, round)
}

func (s *Store) maySignLocked(key model.KeyHash, kind Kind, level, round int32) bool {
	rec, ok := s.data[key.String()]
	if !ok {
		return true
	}
	prior := *rec.slot(kind)
	if prior == nil {
		return true
	}
	target := model.LevelRound{Level: level, Round: round}
	return prior.Less(target)
}

// Forced reports whether the store was opened with the global force
// override enabled.
func (s *Store) Forced() bool { return s.force }

// Record atomically advances key's watermark for kind to (level, round) and
// durably persists the change before returning, matching spec.md §4.2's
// "the update must be durable before the signing call is issued" and §5's
// "record-then-sign" ordering. It refuses to go backwards even under force,
// since force only bypasses the MaySign veto, not monotonicity of the
// record itself.
func (s *Store) Record(key model.KeyHash, kind Kind, level, round int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[key.String()]
	if !ok {
		rec = &record{}
		s.data[key.String()] = rec
	}
	slot := rec.slot(kind)
	target := model.LevelRound{Level: level, Round: round}
	if *slot != nil && !(*slot).Less(target) {
		return &bakererr.PreviouslySigned{
			Delegate: key.String(),
			Level:    (*slot).Level,
			Round:    (*slot).Round,
			ForLevel: level,
			ForRound: round,
		}
	}
	*slot = &target
	return s.persistLocked()
}

// MaySignAndRecord is the single call site executors should use: it checks
// MaySign, honoring the force override when set, and if allowed, performs
// Record before returning so the two never race against each other for the
// same key.
func (s *Store) MaySignAndRecord(key model.KeyHash, kind Kind, level, round int32) error {
	s.mu.Lock()
	allowed := s.maySignLocked(key, kind, level, round)
	if !allowed && !s.force {
		s.mu.Unlock()
		rec := s.data[key.String()]
		prior := *rec.slot(kind)
		return &bakererr.PreviouslySigned{
			Delegate: key.String(),
			Level:    prior.Level,
			Round:    prior.Round,
			ForLevel: level,
			ForRound: round,
		}
	}
	s.mu.Unlock()
	if !allowed {
		// Forced past the veto: the stored record is already at or above
		// (level, round) and stays in place, so later checks remain monotone.
		return nil
	}
	return s.Record(key, kind, level, round)
}

// persistLocked writes the full watermark table atomically: a temp file in
// the same directory, synced to disk, then renamed over the target. Caller
// must hold s.mu.
func (s *Store) persistLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("watermark: mkdir %s: %w", dir, err)
	}

	payload := onDiskFile{Chain: s.chain, Records: s.data}
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("watermark: encode: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("watermark: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("watermark: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("watermark: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("watermark: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("watermark: rename: %w", err)
	}
	return os.Chmod(s.path, 0o600)
}
