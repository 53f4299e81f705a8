// Package extraops fetches the optional external operation source spec.md
// §6 names: a local JSON file or an HTTP URL, five-second timeout, JSON
// media type, decoded into a list of packed operations merged into the pool
// at forge time (spec.md §4.4). An empty list is equivalent to absence of
// the source (spec.md §8 boundary behavior).
package extraops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"bakerd/internal/bakererr"
)

// fetchTimeout is spec.md §6's "5-second GET timeout".
const fetchTimeout = 5 * time.Second

// Source fetches the raw packed-operation list from wherever
// ExtraOperationsSource points: a bare filesystem path, or an http(s) URL.
type Source struct {
	location string
	client   *http.Client
}

// New builds a Source for location, which may be a local file path or an
// http(s) URL.
func New(location string) *Source {
	return &Source{location: location, client: &http.Client{Timeout: fetchTimeout}}
}

// Fetch returns the decoded operation list. A configured-but-empty location
// returns (nil, nil) with no error, matching "no extra-operations source".
func (s *Source) Fetch(ctx context.Context) ([][]byte, error) {
	if s == nil || s.location == "" {
		return nil, nil
	}

	u, err := url.Parse(s.location)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return s.fetchHTTP(ctx)
	}
	return s.fetchFile()
}

func (s *Source) fetchFile() ([][]byte, error) {
	raw, err := os.ReadFile(s.location)
	if err != nil {
		return nil, &bakererr.MempoolFetchFailed{Cause: fmt.Errorf("extraops: read %s: %w", s.location, err)}
	}
	return decode(raw)
}

func (s *Source) fetchHTTP(ctx context.Context) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, nil)
	if err != nil {
		return nil, &bakererr.MempoolFetchFailed{Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &bakererr.MempoolFetchFailed{Cause: fmt.Errorf("extraops: GET %s: %w", s.location, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &bakererr.MempoolFetchFailed{Cause: fmt.Errorf("extraops: GET %s: status %s", s.location, resp.Status)}
	}

	var ops [][]byte
	if err := json.NewDecoder(resp.Body).Decode(&ops); err != nil {
		return nil, &bakererr.MempoolFetchFailed{Cause: fmt.Errorf("extraops: decode %s: %w", s.location, err)}
	}
	return ops, nil
}

func decode(raw []byte) ([][]byte, error) {
	var ops [][]byte
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, &bakererr.MempoolFetchFailed{Cause: fmt.Errorf("extraops: decode: %w", err)}
	}
	return ops, nil
}
