package noderpc

import (
	"context"
	"testing"

	"bakerd/internal/model"
)

func TestFakeStreamsAndCloses(t *testing.T) {
	fake := NewFake("chain-1")
	ctx := context.Background()

	heads, err := fake.MonitorHeads(ctx)
	if err != nil {
		t.Fatalf("MonitorHeads: %v", err)
	}

	want := model.BlockInfo{Hash: model.Hash{1}}
	fake.PushHead(want)
	fake.CloseHeads()

	got, ok := <-heads
	if !ok || got.Hash != want.Hash {
		t.Fatalf("expected head %+v, got %+v ok=%v", want, got, ok)
	}
	if _, ok := <-heads; ok {
		t.Fatal("expected channel closed after CloseHeads")
	}
}

func TestFakeInjectBlockRecordsCalls(t *testing.T) {
	fake := NewFake("chain-1")
	ctx := context.Background()

	if _, err := fake.InjectBlock(ctx, []byte{0xAB}, nil); err != nil {
		t.Fatalf("InjectBlock: %v", err)
	}
	if len(fake.InjectedBlocks) != 1 {
		t.Fatalf("expected 1 injected block, got %d", len(fake.InjectedBlocks))
	}
}

func TestFakeValidatorsAtLevelMissingFixture(t *testing.T) {
	fake := NewFake("chain-1")
	if _, err := fake.ValidatorsAtLevel(context.Background(), 99); err == nil {
		t.Fatal("expected error for missing committee fixture")
	}
}
