// Package ingest turns externally observed legal-process publications into
// queued analysis tasks. A sync cycle queries the publication source for a
// recipient identity and date window, normalizes and deduplicates each
// record, classifies how the recipient matched, and enqueues one task per
// new record. Re-running a window is a no-op for records already seen.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSource marks a publication-source failure that survived the retry policy.
var ErrSource = errors.New("publication source failed")

// Identity is the recipient being watched: a name plus a bar registration
// number (e.g. an OAB number).
type Identity struct {
	Name         string `json:"name" yaml:"name"`
	Registration string `json:"registration" yaml:"registration"`
}

// Query is one request against the publication source.
type Query struct {
	Identity     Identity
	Jurisdiction string
	From         time.Time
	To           time.Time
}

// RawRecord is a publication record as returned by the source, before
// normalization.
type RawRecord struct {
	Tribunal              string    `json:"tribunal"`
	ProcessNumber         string    `json:"processNumber"`
	CommunicationID       string    `json:"communicationId"`
	RecipientName         string    `json:"recipientName"`
	RecipientRegistration string    `json:"recipientRegistration"`
	Content               string    `json:"content"`
	PublishedAt           time.Time `json:"publishedAt"`
}

// SourceClient queries the external publication source.
type SourceClient interface {
	Query(ctx context.Context, q Query) ([]RawRecord, error)
}

// FetchPolicy bounds each source request. Zero fields take the defaults
// below; a negative RequestDelay or Retries disables that part of the policy.
type FetchPolicy struct {
	// Timeout bounds a single request.
	Timeout time.Duration
	// RequestDelay is the fixed pause between consecutive requests.
	RequestDelay time.Duration
	// Retries is the number of re-attempts after a failed request.
	Retries int
	// RetryDelay is the fixed pause before each re-attempt.
	RetryDelay time.Duration
}

// DefaultFetchPolicy returns the standard source rate-limit policy.
func DefaultFetchPolicy() FetchPolicy {
	return FetchPolicy{
		Timeout:      10 * time.Second,
		RequestDelay: 500 * time.Millisecond,
		Retries:      3,
		RetryDelay:   time.Second,
	}
}

func (p FetchPolicy) withDefaults() FetchPolicy {
	def := DefaultFetchPolicy()
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	switch {
	case p.RequestDelay == 0:
		p.RequestDelay = def.RequestDelay
	case p.RequestDelay < 0:
		p.RequestDelay = 0
	}
	switch {
	case p.Retries == 0:
		p.Retries = def.Retries
	case p.Retries < 0:
		p.Retries = 0
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = def.RetryDelay
	}
	return p
}

// Fetcher wraps a SourceClient with the fixed rate-limit/timeout/retry
// policy. Safe for concurrent use; the inter-request delay is enforced
// across callers.
type Fetcher struct {
	client SourceClient
	policy FetchPolicy

	mu          sync.Mutex
	lastRequest time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher wraps client with the given policy.
func NewFetcher(client SourceClient, policy FetchPolicy) *Fetcher {
	return &Fetcher{
		client: client,
		policy: policy.withDefaults(),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Query runs one source query under the policy: inter-request delay, bounded
// per-request timeout, fixed retries with fixed delay. A failure after the
// last retry is wrapped in ErrSource.
func (f *Fetcher) Query(ctx context.Context, q Query) ([]RawRecord, error) {
	if err := f.throttle(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= f.policy.Retries; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, f.policy.RetryDelay); err != nil {
				return nil, err
			}
		}
		reqCtx, cancel := context.WithTimeout(ctx, f.policy.Timeout)
		records, err := f.client.Query(reqCtx, q)
		cancel()
		if err == nil {
			return records, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: after %d retries: %v", ErrSource, f.policy.Retries, lastErr)
}

// throttle enforces the fixed inter-request delay.
func (f *Fetcher) throttle(ctx context.Context) error {
	f.mu.Lock()
	wait := f.policy.RequestDelay - f.now().Sub(f.lastRequest)
	f.lastRequest = f.now().Add(wait)
	f.mu.Unlock()
	return f.sleep(ctx, wait)
}
