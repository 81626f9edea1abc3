package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// scriptedSource fails a fixed number of times before succeeding.
type scriptedSource struct {
	failures int
	calls    int
	records  []RawRecord
}

func (s *scriptedSource) Query(ctx context.Context, q Query) ([]RawRecord, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, fmt.Errorf("scripted failure %d", s.calls)
	}
	return s.records, nil
}

func newTestFetcher(client SourceClient, policy FetchPolicy) *Fetcher {
	f := NewFetcher(client, policy)
	f.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return f
}

func TestFetcherRetriesThenSucceeds(t *testing.T) {
	src := &scriptedSource{failures: 2, records: []RawRecord{{CommunicationID: "c-1"}}}
	f := newTestFetcher(src, FetchPolicy{Retries: 3})

	records, err := f.Query(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(records) != 1 || records[0].CommunicationID != "c-1" {
		t.Fatalf("records = %v", records)
	}
	if src.calls != 3 {
		t.Fatalf("source called %d times, want 3", src.calls)
	}
}

func TestZeroPolicyTakesDocumentedDefaults(t *testing.T) {
	src := &scriptedSource{failures: 100}
	f := newTestFetcher(src, FetchPolicy{})

	if f.policy.Retries != 3 {
		t.Fatalf("Retries = %d, want 3", f.policy.Retries)
	}
	if f.policy.RequestDelay != 500*time.Millisecond {
		t.Fatalf("RequestDelay = %v, want 500ms", f.policy.RequestDelay)
	}
	if f.policy.Timeout != 10*time.Second || f.policy.RetryDelay != time.Second {
		t.Fatalf("policy = %+v", f.policy)
	}

	_, err := f.Query(context.Background(), Query{})
	if !errors.Is(err, ErrSource) {
		t.Fatalf("Query error = %v, want ErrSource", err)
	}
	// One initial attempt plus the three default retries.
	if src.calls != 4 {
		t.Fatalf("source called %d times, want 4", src.calls)
	}
}

func TestNegativePolicyDisablesRetries(t *testing.T) {
	src := &scriptedSource{failures: 100}
	f := newTestFetcher(src, FetchPolicy{Retries: -1, RequestDelay: -1})

	_, err := f.Query(context.Background(), Query{})
	if !errors.Is(err, ErrSource) {
		t.Fatalf("Query error = %v, want ErrSource", err)
	}
	if src.calls != 1 {
		t.Fatalf("source called %d times, want 1", src.calls)
	}
	if f.policy.RequestDelay != 0 {
		t.Fatalf("RequestDelay = %v, want 0", f.policy.RequestDelay)
	}
}

func TestFetcherExhaustedRetriesWrapsErrSource(t *testing.T) {
	src := &scriptedSource{failures: 100}
	f := newTestFetcher(src, FetchPolicy{Retries: 2})

	_, err := f.Query(context.Background(), Query{})
	if !errors.Is(err, ErrSource) {
		t.Fatalf("Query error = %v, want ErrSource", err)
	}
	// Retries=2 means one initial attempt plus two re-attempts.
	if src.calls != 3 {
		t.Fatalf("source called %d times, want 3", src.calls)
	}
}

func TestFetcherStopsOnCanceledContext(t *testing.T) {
	src := &scriptedSource{failures: 100}
	f := newTestFetcher(src, FetchPolicy{Retries: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Query(ctx, Query{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Query error = %v, want context.Canceled", err)
	}
}

func TestWindowEnding(t *testing.T) {
	ref := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	from, to := WindowEnding(ref, 7)
	if !to.Equal(ref) {
		t.Fatalf("to = %v, want %v", to, ref)
	}
	if !from.Equal(ref.AddDate(0, 0, -7)) {
		t.Fatalf("from = %v, want %v", from, ref.AddDate(0, 0, -7))
	}

	from, to = WindowEnding(ref, 0)
	if !from.Equal(ref.AddDate(0, 0, -1)) {
		t.Fatalf("zero-day window from = %v, want one day back", from)
	}
}
