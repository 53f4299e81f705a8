package signer

import (
	"context"
	"testing"

	"bakerd/crypto"
	"bakerd/internal/model"
)

func TestLocalSignProducesDistinctSignaturesPerKind(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	var keyHash model.KeyHash
	copy(keyHash[:], priv.Bytes())

	local := NewLocal()
	local.AddKey(keyHash, priv)

	delegate := model.Delegate{KeyHash: keyHash}
	payload := []byte("block-header-bytes")

	blockSig, err := local.Sign(context.Background(), Request{Delegate: delegate, ChainID: "chain-1", Kind: KindBlock, Payload: payload})
	if err != nil {
		t.Fatalf("sign block: %v", err)
	}
	preSig, err := local.Sign(context.Background(), Request{Delegate: delegate, ChainID: "chain-1", Kind: KindPreendorsement, Payload: payload})
	if err != nil {
		t.Fatalf("sign preendorsement: %v", err)
	}

	if string(blockSig) == string(preSig) {
		t.Fatal("expected different signatures for different kind tags over the same payload")
	}
}

func TestLocalSignUnknownDelegate(t *testing.T) {
	local := NewLocal()
	_, err := local.Sign(context.Background(), Request{Delegate: model.Delegate{}, ChainID: "c", Kind: KindBlock, Payload: []byte("x")})
	if err == nil {
		t.Fatal("expected error for unregistered delegate")
	}
}
