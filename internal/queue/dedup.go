package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/lexflow/internal/liststore"
)

const dedupKeyPrefix = "dedup:"

// DedupStore is a content-addressed marker set over the scalar primitives.
// For a given hash at most one marker is ever written; markers carry no
// self-expiry, pruning is the backing store's concern.
type DedupStore struct {
	client liststore.Client
	now    func() time.Time
}

// NewDedupStore creates a DedupStore over the given client.
func NewDedupStore(client liststore.Client) *DedupStore {
	return &DedupStore{client: client, now: time.Now}
}

// Seen reports whether hash already has a marker.
func (d *DedupStore) Seen(ctx context.Context, hash string) (bool, error) {
	_, ok, err := d.client.Get(ctx, dedupKeyPrefix+hash)
	if err != nil {
		return false, fmt.Errorf("dedup check %s: %w", hash, err)
	}
	return ok, nil
}

// MarkSeen writes the marker for hash if absent, recording first-seen time.
// Returns false when a marker already existed (lost race or replay).
func (d *DedupStore) MarkSeen(ctx context.Context, hash string) (bool, error) {
	firstSeen := d.now().UTC().Format(time.RFC3339Nano)
	written, err := d.client.SetNX(ctx, dedupKeyPrefix+hash, firstSeen)
	if err != nil {
		return false, fmt.Errorf("dedup mark %s: %w", hash, err)
	}
	return written, nil
}

// FirstSeenAt returns the recorded first-seen time for hash, if any.
func (d *DedupStore) FirstSeenAt(ctx context.Context, hash string) (time.Time, bool, error) {
	v, ok, err := d.client.Get(ctx, dedupKeyPrefix+hash)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dedup read %s: %w", hash, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dedup parse %s: %w", hash, err)
	}
	return t, true, nil
}
