// Package noderpc defines the external Node RPC surface spec.md §6 treats
// as an opaque collaborator (protocol validation, script/VM execution, and
// RPC transport encoding are all explicit Non-goals of spec.md §1). Only the
// interface is part of the automaton's contract; internal/scheduler and
// internal/executor depend on NodeRPC, never on a concrete transport, so the
// pure core can be exercised against the in-memory Fake in this package
// (styled on the teacher's hand-written consensus/bft/bft_test.go fakes)
// without a network in the loop.
package noderpc

import (
	"context"

	"bakerd/internal/model"
)

// OperationUpdate is one item of the "monitor operations" stream: an
// operation hash, its packed bytes decoded into a SignedOperation, and an
// optional validation error the node attached (spec.md §6).
type OperationUpdate struct {
	Hash      model.Hash
	Operation model.SignedOperation
	Err       error
}

// ForgeRequest carries everything the node needs to build an unsigned
// block header for InjectBlock (spec.md §4.4).
type ForgeRequest struct {
	Predecessor  model.BlockInfo
	Timestamp    int64 // unix nanoseconds; kept as int64 to stay a narrow, serializable boundary value
	Round        int32
	PayloadRound int32
	SeedNonceHash *model.Hash

	LiquidityBakingVote   model.LiquidityBakingVote
	UserActivatedUpgrades []model.ProtocolUpgrade
	MinimalFees           int64
	MinimalNanotezPerGasUnit int64
	MinimalNanotezPerByte int64

	// SimulationKind is "filter" for a Fresh proposal or "apply" for a
	// Reproposal, per spec.md §4.4.
	SimulationKind   SimulationKind
	OrderedPool      model.OperationPool
	ReproposalPayload model.Hash
}

// SimulationKind distinguishes the two forging simulation modes of
// spec.md §4.4.
type SimulationKind uint8

const (
	SimulationFilter SimulationKind = iota
	SimulationApply
)

// ForgeResult is the node's response to ForgeBlock: an unsigned header
// ready for the signer, plus the operation lists the header commits to.
type ForgeResult struct {
	UnsignedHeader []byte
	Operations     [][]byte
	PayloadHash    model.Hash
}

// NodeRPC is the full surface the executor and scheduler consume. Every
// method takes a context so callers can bound RPC latency and propagate
// cancellation on shutdown (spec.md §5).
type NodeRPC interface {
	// MonitorHeads streams new block heads; the channel closes when the
	// node connection drops, which the scheduler treats as fatal
	// (bakererr.NodeConnectionLost, spec.md §4.6).
	MonitorHeads(ctx context.Context) (<-chan model.BlockInfo, error)

	// MonitorOperations streams mempool operations; the channel closing is
	// non-fatal and the scheduler restarts it (spec.md §4.6).
	MonitorOperations(ctx context.Context) (<-chan OperationUpdate, error)

	ForgeBlock(ctx context.Context, req ForgeRequest) (ForgeResult, error)

	InjectBlock(ctx context.Context, signedHeader []byte, operations [][]byte) (model.Hash, error)
	InjectOperation(ctx context.Context, signedOperation []byte) (model.Hash, error)

	ValidatorsAtLevel(ctx context.Context, level int32) (model.DelegateSlots, error)

	BlockInfo(ctx context.Context, hash model.Hash) (model.BlockInfo, error)

	ChainID(ctx context.Context) (string, error)
}
