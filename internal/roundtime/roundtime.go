// Package roundtime implements the pure round/time arithmetic of spec.md
// §4.1: mapping between a predecessor's (timestamp, round) and a target
// round's wall-clock timestamp, and back. Every exported function is pure
// and side-effect free so the transition core (internal/automaton) can call
// it directly; the two bounded caches spec.md §3 calls for live alongside it
// here rather than in GlobalState, since LRU eviction is an implementation
// detail the automaton should not need to reason about.
package roundtime

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// cacheSize bounds each memoization table; sized generously above the
// number of in-flight rounds a single baker tracks at once.
const cacheSize = 4096

// ErrOutOfRange is returned whenever an arithmetic input would overflow or
// a round is negative (spec.md §4.1).
type ErrOutOfRange struct {
	Detail string
}

func (e *ErrOutOfRange) Error() string { return fmt.Sprintf("roundtime: out of range: %s", e.Detail) }

// Durations is the per-chain round-length schedule: the first round's
// duration plus a per-round increment, matching spec.md §4.1.
type Durations struct {
	First     time.Duration
	Increment time.Duration
}

// durationOfRound returns the length of round r under d.
func durationOfRound(d Durations, r int32) (time.Duration, error) {
	if r < 0 {
		return 0, &ErrOutOfRange{Detail: "negative round"}
	}
	// duration(r) = First + r*Increment, matching the protocol's linearly
	// growing round-length rule.
	extra := time.Duration(r) * d.Increment
	if d.Increment != 0 && extra/d.Increment != time.Duration(r) {
		return 0, &ErrOutOfRange{Detail: "round duration overflow"}
	}
	total := d.First + extra
	if total < d.First {
		return 0, &ErrOutOfRange{Detail: "round duration overflow"}
	}
	return total, nil
}

// levelOffsetKey identifies a memoized level_offset_of_round computation.
type levelOffsetKey struct {
	durationsKey durationsKey
	round        int32
}

type durationsKey struct {
	first     time.Duration
	increment time.Duration
}

// Cache memoizes timestamp_of_round and level_offset_of_round results,
// matching the two bounded caches spec.md §3 lists on GlobalState.
type Cache struct {
	timestampOfRound *lru.Cache
	levelOffset      *lru.Cache
}

// NewCache builds a pair of bounded LRU caches.
func NewCache() *Cache {
	tsCache, err := lru.New(cacheSize)
	if err != nil {
		// lru.New only errors on a non-positive size, which cacheSize never is.
		panic(err)
	}
	offCache, err := lru.New(cacheSize)
	if err != nil {
		panic(err)
	}
	return &Cache{timestampOfRound: tsCache, levelOffset: offCache}
}

type timestampKey struct {
	predecessorTimestamp int64
	predecessorRound     int32
	targetRound          int32
	durations            durationsKey
}

// TimestampOfRound returns the wall-clock timestamp at which targetRound
// begins, given the predecessor's timestamp and round.
func (c *Cache) TimestampOfRound(d Durations, predecessorTimestamp time.Time, predecessorRound, targetRound int32) (time.Time, error) {
	key := timestampKey{
		predecessorTimestamp: predecessorTimestamp.UnixNano(),
		predecessorRound:     predecessorRound,
		targetRound:          targetRound,
		durations:            durationsKey{first: d.First, increment: d.Increment},
	}
	if v, ok := c.timestampOfRound.Get(key); ok {
		return v.(time.Time), nil
	}
	ts, err := TimestampOfRound(d, predecessorTimestamp, predecessorRound, targetRound)
	if err != nil {
		return time.Time{}, err
	}
	c.timestampOfRound.Add(key, ts)
	return ts, nil
}

// LevelOffsetOfRound returns the cumulative duration from the start of a
// level up to (not including) round r.
func (c *Cache) LevelOffsetOfRound(d Durations, r int32) (time.Duration, error) {
	key := levelOffsetKey{durationsKey: durationsKey{first: d.First, increment: d.Increment}, round: r}
	if v, ok := c.levelOffset.Get(key); ok {
		return v.(time.Duration), nil
	}
	off, err := LevelOffsetOfRound(d, r)
	if err != nil {
		return 0, err
	}
	c.levelOffset.Add(key, off)
	return off, nil
}

// TimestampOfRound is the uncached implementation: the predecessor's round
// began at predecessorTimestamp minus the level-offset of its own round, so
// the absolute level-start anchors every round's start within the level.
func TimestampOfRound(d Durations, predecessorTimestamp time.Time, predecessorRound, targetRound int32) (time.Time, error) {
	predOffset, err := LevelOffsetOfRound(d, predecessorRound)
	if err != nil {
		return time.Time{}, err
	}
	targetOffset, err := LevelOffsetOfRound(d, targetRound)
	if err != nil {
		return time.Time{}, err
	}
	levelStart := predecessorTimestamp.Add(-predOffset)
	return levelStart.Add(targetOffset), nil
}

// RoundOfTimestamp returns the round active at now, the inverse of
// TimestampOfRound.
func RoundOfTimestamp(d Durations, predecessorTimestamp time.Time, predecessorRound int32, now time.Time) (int32, error) {
	predOffset, err := LevelOffsetOfRound(d, predecessorRound)
	if err != nil {
		return 0, err
	}
	levelStart := predecessorTimestamp.Add(-predOffset)
	if now.Before(levelStart) {
		return 0, nil
	}
	elapsed := now.Sub(levelStart)

	if d.Increment <= 0 {
		if d.First <= 0 {
			return 0, &ErrOutOfRange{Detail: "non-positive round duration"}
		}
		return int32(elapsed / d.First), nil
	}

	// Solve r such that First*r + Increment*r*(r-1)/2 <= elapsed, by
	// walking forward from the offset table; round counts stay small in
	// practice (single-digit to low hundreds), so a linear scan avoids the
	// numerical-precision pitfalls of the closed-form quadratic solution.
	var r int32
	offset := time.Duration(0)
	for {
		dur, err := durationOfRound(d, r)
		if err != nil {
			return 0, err
		}
		if offset+dur > elapsed {
			return r, nil
		}
		offset += dur
		r++
		if r > 1_000_000 {
			return 0, &ErrOutOfRange{Detail: "round search exceeded bound"}
		}
	}
}

// LevelOffsetOfRound returns the cumulative duration of rounds [0, r).
func LevelOffsetOfRound(d Durations, r int32) (time.Duration, error) {
	if r < 0 {
		return 0, &ErrOutOfRange{Detail: "negative round"}
	}
	var total time.Duration
	for i := int32(0); i < r; i++ {
		dur, err := durationOfRound(d, i)
		if err != nil {
			return 0, err
		}
		next := total + dur
		if next < total {
			return 0, &ErrOutOfRange{Detail: "level offset overflow"}
		}
		total = next
	}
	return total, nil
}

// RoundToSlot maps a round to its canonical proposer slot under a
// committee of the given size (spec.md §4.1): round 0 maps to slot 0, and
// successive rounds wrap around the committee.
func RoundToSlot(round, committeeSize int32) (int32, error) {
	if round < 0 {
		return 0, &ErrOutOfRange{Detail: "negative round"}
	}
	if committeeSize <= 0 {
		return 0, &ErrOutOfRange{Detail: "non-positive committee size"}
	}
	return round % committeeSize, nil
}
