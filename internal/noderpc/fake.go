package noderpc

import (
	"context"
	"fmt"
	"sync"

	"bakerd/internal/model"
)

// Fake is an in-memory NodeRPC double for tests, in the spirit of the
// teacher's hand-written fakes in consensus/bft/bft_test.go (failingNode,
// trackingNode, emptyBlockNode) rather than a generated/mocking-framework
// stub.
type Fake struct {
	mu sync.Mutex

	chain string

	heads chan model.BlockInfo
	ops   chan OperationUpdate

	committees map[int32]model.DelegateSlots
	blocks     map[model.Hash]model.BlockInfo

	InjectedBlocks     [][]byte
	InjectedOperations [][]byte

	ForgeFunc func(ForgeRequest) (ForgeResult, error)

	InjectBlockErr     error
	InjectOperationErr error
}

// NewFake builds a Fake with buffered streams; callers push test fixtures
// via PushHead/PushOperation and close the streams via CloseHeads/CloseOps
// to simulate disconnects.
func NewFake(chain string) *Fake {
	return &Fake{
		chain:      chain,
		heads:      make(chan model.BlockInfo, 16),
		ops:        make(chan OperationUpdate, 16),
		committees: map[int32]model.DelegateSlots{},
		blocks:     map[model.Hash]model.BlockInfo{},
	}
}

func (f *Fake) SetCommittee(level int32, slots model.DelegateSlots) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committees[level] = slots
}

func (f *Fake) SetBlock(b model.BlockInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[b.Hash] = b
}

func (f *Fake) PushHead(b model.BlockInfo) { f.heads <- b }
func (f *Fake) CloseHeads()                { close(f.heads) }

func (f *Fake) PushOperation(u OperationUpdate) { f.ops <- u }
func (f *Fake) CloseOperations()                { close(f.ops) }

func (f *Fake) MonitorHeads(_ context.Context) (<-chan model.BlockInfo, error) {
	return f.heads, nil
}

func (f *Fake) MonitorOperations(_ context.Context) (<-chan OperationUpdate, error) {
	return f.ops, nil
}

func (f *Fake) ForgeBlock(_ context.Context, req ForgeRequest) (ForgeResult, error) {
	if f.ForgeFunc != nil {
		return f.ForgeFunc(req)
	}
	return ForgeResult{UnsignedHeader: []byte("unsigned-header"), PayloadHash: req.ReproposalPayload}, nil
}

func (f *Fake) InjectBlock(_ context.Context, signedHeader []byte, operations [][]byte) (model.Hash, error) {
	if f.InjectBlockErr != nil {
		return model.Hash{}, f.InjectBlockErr
	}
	f.mu.Lock()
	f.InjectedBlocks = append(f.InjectedBlocks, signedHeader)
	f.mu.Unlock()
	var h model.Hash
	copy(h[:], signedHeader)
	return h, nil
}

func (f *Fake) InjectOperation(_ context.Context, signedOperation []byte) (model.Hash, error) {
	if f.InjectOperationErr != nil {
		return model.Hash{}, f.InjectOperationErr
	}
	f.mu.Lock()
	f.InjectedOperations = append(f.InjectedOperations, signedOperation)
	f.mu.Unlock()
	var h model.Hash
	copy(h[:], signedOperation)
	return h, nil
}

func (f *Fake) ValidatorsAtLevel(_ context.Context, level int32) (model.DelegateSlots, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots, ok := f.committees[level]
	if !ok {
		return model.DelegateSlots{}, fmt.Errorf("noderpc: no committee fixture for level %d", level)
	}
	return slots, nil
}

func (f *Fake) BlockInfo(_ context.Context, hash model.Hash) (model.BlockInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[hash]
	if !ok {
		return model.BlockInfo{}, fmt.Errorf("noderpc: no block fixture for hash %s", hash)
	}
	return b, nil
}

func (f *Fake) ChainID(_ context.Context) (string, error) { return f.chain, nil }
