package queue

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult holds counts from a retention run.
type CleanupResult struct {
	TotalBefore int `json:"total_before"`
	TotalAfter  int `json:"total_after"`
	Removed     int `json:"removed"`
}

// CleanupFailed removes task records with status=failed created before
// now-olderThan. All other records, whatever their age or status, are left
// untouched. Index entries are removed one at a time, so tasks enqueued while
// a sweep is running keep their entries. The operation is idempotent: a
// second run over the same data removes nothing.
func (q *Queue) CleanupFailed(ctx context.Context, olderThan time.Duration) (CleanupResult, error) {
	var result CleanupResult
	ids, err := q.indexIDs(ctx)
	if err != nil {
		return result, err
	}

	cutoff := q.now().UTC().Add(-olderThan)
	for _, id := range ids {
		task, err := q.Get(ctx, id)
		if err != nil {
			return result, fmt.Errorf("cleanup read %s: %w", id, err)
		}
		if task == nil {
			// Record already gone; drop the dangling index entry.
			if err := q.client.Remove(ctx, q.indexKey, []byte(id)); err != nil {
				return result, fmt.Errorf("cleanup unindex %s: %w", id, err)
			}
			continue
		}
		result.TotalBefore++
		if task.Status == StatusFailed && task.CreatedAt.Before(cutoff) {
			if err := q.client.Delete(ctx, recordKey(id)); err != nil {
				return result, fmt.Errorf("cleanup delete %s: %w", id, err)
			}
			if err := q.client.Remove(ctx, q.indexKey, []byte(id)); err != nil {
				return result, fmt.Errorf("cleanup unindex %s: %w", id, err)
			}
			result.Removed++
		}
	}
	result.TotalAfter = result.TotalBefore - result.Removed
	return result, nil
}
