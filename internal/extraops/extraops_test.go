package extraops

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFetchFromLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ops.json")
	if err := os.WriteFile(path, []byte(`["AA==","AQ=="]`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	src := New(path)
	ops, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ops))
	}
}

func TestFetchEmptyLocationIsAbsence(t *testing.T) {
	src := New("")
	ops, err := src.Fetch(context.Background())
	if err != nil || ops != nil {
		t.Fatalf("expected nil/nil for empty location, got %v/%v", ops, err)
	}
}

func TestFetchEmptyListEquivalentToAbsence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ops.json")
	if err := os.WriteFile(path, []byte(`[]`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	src := New(path)
	ops, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected empty list, got %d", len(ops))
	}
}

func TestFetchFromHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`["AA=="]`))
	}))
	defer server.Close()

	src := New(server.URL)
	ops, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(ops))
	}
}

func TestFetchMissingFileFails(t *testing.T) {
	src := New("/nonexistent/path/ops.json")
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}
