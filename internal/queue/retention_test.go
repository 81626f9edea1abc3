package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/basket/lexflow/internal/liststore"
)

// seedTask enqueues one task and drives it to the given status with the given
// creation time.
func seedTask(t *testing.T, q *Queue, clock *time.Time, createdAt time.Time, status Status) *AgentTask {
	t.Helper()
	ctx := context.Background()
	*clock = createdAt
	task := &AgentTask{AgentID: "analysis", Type: "publication-analysis"}
	if _, err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	switch status {
	case StatusQueued:
	case StatusProcessing:
		if err := q.MarkProcessing(ctx, task); err != nil {
			t.Fatalf("MarkProcessing error: %v", err)
		}
	case StatusCompleted:
		if err := q.MarkProcessing(ctx, task); err != nil {
			t.Fatalf("MarkProcessing error: %v", err)
		}
		if err := q.Complete(ctx, task, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Complete error: %v", err)
		}
	case StatusFailed:
		if err := q.MarkProcessing(ctx, task); err != nil {
			t.Fatalf("MarkProcessing error: %v", err)
		}
		if err := q.Fail(ctx, task, "boom"); err != nil {
			t.Fatalf("Fail error: %v", err)
		}
	}
	return task
}

func TestCleanupFailedRemovesOnlyOldFailures(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := now
	q := New(liststore.NewMemory(), WithClock(func() time.Time { return clock }))

	oldFailed1 := seedTask(t, q, &clock, now.Add(-72*time.Hour), StatusFailed)
	oldFailed2 := seedTask(t, q, &clock, now.Add(-50*time.Hour), StatusFailed)
	freshFailed := seedTask(t, q, &clock, now.Add(-1*time.Hour), StatusFailed)
	oldCompleted := seedTask(t, q, &clock, now.Add(-72*time.Hour), StatusCompleted)
	queued := seedTask(t, q, &clock, now.Add(-72*time.Hour), StatusQueued)

	clock = now
	result, err := q.CleanupFailed(ctx, 48*time.Hour)
	if err != nil {
		t.Fatalf("CleanupFailed error: %v", err)
	}

	if result.TotalBefore != 5 {
		t.Fatalf("TotalBefore = %d, want 5", result.TotalBefore)
	}
	if result.Removed != 2 {
		t.Fatalf("Removed = %d, want 2", result.Removed)
	}
	if result.TotalAfter != 3 {
		t.Fatalf("TotalAfter = %d, want 3", result.TotalAfter)
	}

	for _, id := range []string{oldFailed1.ID, oldFailed2.ID} {
		got, err := q.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if got != nil {
			t.Fatalf("old failed record %s survived cleanup", id)
		}
	}
	for _, task := range []*AgentTask{freshFailed, oldCompleted, queued} {
		got, err := q.Get(ctx, task.ID)
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if got == nil {
			t.Fatalf("record %s (%s) was removed, want kept", task.ID, task.Status)
		}
	}
}

func TestCleanupFailedIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := now
	q := New(liststore.NewMemory(), WithClock(func() time.Time { return clock }))

	seedTask(t, q, &clock, now.Add(-100*time.Hour), StatusFailed)
	seedTask(t, q, &clock, now.Add(-2*time.Hour), StatusCompleted)

	clock = now
	first, err := q.CleanupFailed(ctx, 48*time.Hour)
	if err != nil {
		t.Fatalf("first CleanupFailed error: %v", err)
	}
	if first.Removed != 1 {
		t.Fatalf("first Removed = %d, want 1", first.Removed)
	}

	second, err := q.CleanupFailed(ctx, 48*time.Hour)
	if err != nil {
		t.Fatalf("second CleanupFailed error: %v", err)
	}
	if second.Removed != 0 {
		t.Fatalf("second Removed = %d, want 0", second.Removed)
	}
	if second.TotalBefore != first.TotalAfter {
		t.Fatalf("second TotalBefore = %d, want %d", second.TotalBefore, first.TotalAfter)
	}
}

// rangeHookClient runs a hook the first time the index is ranged, simulating
// work landing while a sweep is in flight.
type rangeHookClient struct {
	liststore.Client
	hookKey string
	once    sync.Once
	hook    func()
}

func (c *rangeHookClient) Range(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	items, err := c.Client.Range(ctx, key, start, stop)
	if key == c.hookKey && c.hook != nil {
		c.once.Do(c.hook)
	}
	return items, err
}

func TestCleanupFailedKeepsConcurrentEnqueueIndexed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := now
	mem := liststore.NewMemory()
	client := &rangeHookClient{Client: mem, hookKey: defaultIndexKey}
	q := New(client, WithClock(func() time.Time { return clock }))

	seedTask(t, q, &clock, now.Add(-100*time.Hour), StatusFailed)

	var late *AgentTask
	client.hook = func() {
		late = &AgentTask{AgentID: "analysis", Type: "publication-analysis"}
		if _, err := q.Enqueue(ctx, late); err != nil {
			t.Errorf("concurrent Enqueue error: %v", err)
		}
	}

	clock = now
	result, err := q.CleanupFailed(ctx, 48*time.Hour)
	if err != nil {
		t.Fatalf("CleanupFailed error: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("Removed = %d, want 1", result.Removed)
	}

	got, err := q.Get(ctx, late.ID)
	if err != nil || got == nil {
		t.Fatalf("late task record = (%v, %v), want kept", got, err)
	}
	entries, err := mem.Range(ctx, defaultIndexKey, 0, -1)
	if err != nil {
		t.Fatalf("Range error: %v", err)
	}
	found := false
	for _, entry := range entries {
		if bytes.Equal(entry, []byte(late.ID)) {
			found = true
		}
	}
	if !found {
		t.Fatal("late task lost its index entry during the sweep")
	}
}

func TestCleanupFailedZeroMatches(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := now
	q := New(liststore.NewMemory(), WithClock(func() time.Time { return clock }))

	seedTask(t, q, &clock, now.Add(-1*time.Hour), StatusFailed)

	clock = now
	result, err := q.CleanupFailed(ctx, 48*time.Hour)
	if err != nil {
		t.Fatalf("CleanupFailed error: %v", err)
	}
	if result.Removed != 0 || result.TotalBefore != 1 || result.TotalAfter != 1 {
		t.Fatalf("result = %+v, want no removals", result)
	}
}
