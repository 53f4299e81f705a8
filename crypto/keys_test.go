package crypto

import (
	"path/filepath"
	"testing"
)

func TestKeyHashStableAcrossDerivations(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}

	h1 := priv.PubKey().KeyHash()
	h2 := priv.PubKey().KeyHash()
	if h1 != h2 {
		t.Fatalf("expected KeyHash to be deterministic, got %x vs %x", h1, h2)
	}

	other, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	if priv.PubKey().KeyHash() == other.PubKey().KeyHash() {
		t.Fatal("expected distinct keys to hash to distinct values")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}

	path := filepath.Join(t.TempDir(), "delegate.keystore")
	if err := SaveToKeystore("baker-1", path, priv, "correct horse battery staple"); err != nil {
		t.Fatalf("SaveToKeystore: %v", err)
	}

	loaded, err := LoadFromKeystore("baker-1", path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("LoadFromKeystore: %v", err)
	}
	if loaded.PubKey().KeyHash() != priv.PubKey().KeyHash() {
		t.Fatal("round-tripped key has a different key hash")
	}

	if _, err := LoadFromKeystore("baker-1", path, "wrong passphrase"); err == nil {
		t.Fatal("expected LoadFromKeystore to fail with the wrong passphrase")
	}
}
