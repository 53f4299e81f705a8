package noncefile

import (
	"path/filepath"
	"testing"

	"bakerd/internal/model"
)

func TestRecordAndLookup(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "nonces.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	hash := model.Hash{1, 2, 3}
	if _, ok, err := store.Lookup(hash); err != nil || ok {
		t.Fatalf("expected no entry before Record, ok=%v err=%v", ok, err)
	}

	if err := store.Record(hash, []byte("seed-nonce")); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, ok, err := store.Lookup(hash)
	if err != nil || !ok {
		t.Fatalf("expected entry after Record, ok=%v err=%v", ok, err)
	}
	if string(got) != "seed-nonce" {
		t.Fatalf("unexpected nonce: %q", got)
	}

	n, err := store.Count()
	if err != nil || n != 1 {
		t.Fatalf("expected count 1, got %d err=%v", n, err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonces.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	hash := model.Hash{9}
	if err := store.Record(hash, []byte("abc")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, ok, err := reopened.Lookup(hash)
	if err != nil || !ok || string(got) != "abc" {
		t.Fatalf("expected persisted nonce, got %q ok=%v err=%v", got, ok, err)
	}
}
