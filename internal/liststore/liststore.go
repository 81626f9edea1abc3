// Package liststore provides the durable list-and-scalar store the queue and
// dedup layers are built on. The interface mirrors the primitives of a remote
// list store: atomic single-key append/pop, non-destructive range reads, and
// scalar get/set markers. Implementations must make Append and Pop atomic;
// Range is an eventually consistent snapshot and may race concurrent pops.
package liststore

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable marks a transient store failure. Callers must treat it as
// retryable and never as "list empty".
var ErrUnavailable = errors.New("list store unavailable")

// Client is the minimal contract over the backing store.
type Client interface {
	// Append atomically adds item at the tail of key and returns the new length.
	Append(ctx context.Context, key string, item []byte) (int, error)
	// Pop atomically removes and returns the head of key, or (nil, nil) when empty.
	Pop(ctx context.Context, key string) ([]byte, error)
	// Range returns items from start to stop inclusive; stop = -1 means the end.
	Range(ctx context.Context, key string, start, stop int) ([][]byte, error)
	// Len returns the number of items stored under key.
	Len(ctx context.Context, key string) (int, error)
	// Remove atomically deletes the first item under key equal to item. A
	// missing item is not an error.
	Remove(ctx context.Context, key string, item []byte) error
	// Delete removes key and everything stored under it.
	Delete(ctx context.Context, key string) error

	// Get reads a scalar value. The second return is false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes a scalar value, overwriting any previous one.
	Set(ctx context.Context, key, value string) error
	// SetNX writes a scalar only if the key is absent; returns true when written.
	SetNX(ctx context.Context, key, value string) (bool, error)

	Close() error
}

// unavailable wraps a backend error so errors.Is(err, ErrUnavailable) holds
// while keeping the underlying detail in the message.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
