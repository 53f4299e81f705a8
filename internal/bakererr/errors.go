// Package bakererr defines the typed error taxonomy the automaton and
// executor use to report failures (spec.md §7). Errors are plain structs
// implementing the error interface, unwrap to a sentinel via errors.Is, and
// carry the fields callers need to log or react to, following the teacher's
// "fmt.Errorf(...: %w...)" idiom in consensus/bft rather than a bespoke
// exception hierarchy.
package bakererr

import (
	"errors"
	"fmt"
)

// Sentinel errors identify the error class for errors.Is; the typed structs
// below wrap one of these via Unwrap.
var (
	ErrPreviouslySigned            = errors.New("previously signed at this or a higher level/round")
	ErrInvalidProposal             = errors.New("invalid proposal")
	ErrOutdatedProposal            = errors.New("outdated proposal")
	ErrNodeConnectionLost          = errors.New("node connection lost")
	ErrMempoolFetchFailed          = errors.New("mempool fetch failed")
	ErrInvalidLockedValuesInvariant = errors.New("invalid locked values invariant")
	ErrSignerRejected              = errors.New("signer rejected request")
)

// PreviouslySigned is returned by the high-watermark store when a sign
// request would violate the monotone-signing invariant (spec.md §4.2, §8).
type PreviouslySigned struct {
	Delegate   string
	Level      int32
	Round      int32
	ForLevel   int32
	ForRound   int32
}

func (e *PreviouslySigned) Error() string {
	return fmt.Sprintf("%s: delegate %s already signed at level=%d round=%d, refusing level=%d round=%d",
		ErrPreviouslySigned, e.Delegate, e.Level, e.Round, e.ForLevel, e.ForRound)
}

func (e *PreviouslySigned) Unwrap() error { return ErrPreviouslySigned }

// InvalidProposal is returned when a proposal fails shell or payload
// validation (spec.md §4.3, case 5).
type InvalidProposal struct {
	BlockHash string
	Reason    string
}

func (e *InvalidProposal) Error() string {
	return fmt.Sprintf("%s %s: %s", ErrInvalidProposal, e.BlockHash, e.Reason)
}

func (e *InvalidProposal) Unwrap() error { return ErrInvalidProposal }

// OutdatedProposal is returned when a proposal arrives for a level/round the
// automaton has already moved past.
type OutdatedProposal struct {
	BlockHash    string
	ProposalLR   string
	CurrentLR    string
}

func (e *OutdatedProposal) Error() string {
	return fmt.Sprintf("%s %s: proposal at %s, current state at %s", ErrOutdatedProposal, e.BlockHash, e.ProposalLR, e.CurrentLR)
}

func (e *OutdatedProposal) Unwrap() error { return ErrOutdatedProposal }

// NodeConnectionLost is returned by internal/scheduler when a node stream
// cannot be opened or the head stream closes, and by internal/executor when
// a committee fetch (validators_at_level) fails.
type NodeConnectionLost struct {
	Stream string
	Cause  error
}

func (e *NodeConnectionLost) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: stream %s: %v", ErrNodeConnectionLost, e.Stream, e.Cause)
	}
	return fmt.Sprintf("%s: stream %s", ErrNodeConnectionLost, e.Stream)
}

func (e *NodeConnectionLost) Unwrap() error { return ErrNodeConnectionLost }

// MempoolFetchFailed is returned by internal/extraops when the
// extra-operations source (a local file or an HTTP URL) cannot be read.
type MempoolFetchFailed struct {
	Cause error
}

func (e *MempoolFetchFailed) Error() string {
	return fmt.Sprintf("%s: %v", ErrMempoolFetchFailed, e.Cause)
}

func (e *MempoolFetchFailed) Unwrap() error { return ErrMempoolFetchFailed }

// InvalidLockedValuesInvariant is returned by internal/levelstate when a new
// snapshot would lower the level, clear or lower the locked round or the
// endorsable prequorum round within a level, or lock a round above the
// endorsable prequorum round.
type InvalidLockedValuesInvariant struct {
	Detail string
}

func (e *InvalidLockedValuesInvariant) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidLockedValuesInvariant, e.Detail)
}

func (e *InvalidLockedValuesInvariant) Unwrap() error { return ErrInvalidLockedValuesInvariant }

// SignerRejected is returned when the signer declines to produce a
// signature, distinct from a connection failure.
type SignerRejected struct {
	Delegate string
	Cause    error
}

func (e *SignerRejected) Error() string {
	return fmt.Sprintf("%s: delegate %s: %v", ErrSignerRejected, e.Delegate, e.Cause)
}

func (e *SignerRejected) Unwrap() error { return ErrSignerRejected }
