package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/basket/lexflow/internal/liststore"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New(liststore.NewMemory())
}

func enqueueTask(t *testing.T, q *Queue, data string) *AgentTask {
	t.Helper()
	task := &AgentTask{
		AgentID: "analysis",
		Type:    "publication-analysis",
		Data:    json.RawMessage(data),
	}
	if _, err := q.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	return task
}

func TestEnqueueAssignsIdentityAndStatus(t *testing.T) {
	q := newTestQueue(t)
	task := enqueueTask(t, q, `{"n":1}`)

	if task.ID == "" {
		t.Fatal("Enqueue left ID empty")
	}
	if task.Status != StatusQueued {
		t.Fatalf("status = %q, want queued", task.Status)
	}
	if task.CreatedAt.IsZero() {
		t.Fatal("Enqueue left CreatedAt zero")
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	tests := []struct {
		name string
		task *AgentTask
	}{
		{"missing agent", &AgentTask{Type: "x"}},
		{"missing type", &AgentTask{AgentID: "a"}},
		{"bad status", &AgentTask{AgentID: "a", Type: "x", Status: "running"}},
		{"non-queued status", &AgentTask{AgentID: "a", Type: "x", Status: StatusCompleted}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Enqueue(ctx, tt.task); !errors.Is(err, ErrValidation) {
				t.Fatalf("Enqueue error = %v, want ErrValidation", err)
			}
		})
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len error: %v", err)
	}
	if n != 0 {
		t.Fatalf("Len after rejected enqueues = %d, want 0", n)
	}
}

func TestDequeueFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		task := enqueueTask(t, q, fmt.Sprintf(`{"n":%d}`, i))
		ids = append(ids, task.ID)
	}

	for i, want := range ids {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue error: %v", err)
		}
		if got == nil || got.ID != want {
			t.Fatalf("Dequeue[%d] = %v, want id %s", i, got, want)
		}
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue on empty error: %v", err)
	}
	if got != nil {
		t.Fatalf("Dequeue on empty = %v, want nil", got)
	}
}

func TestDequeueConcurrentExclusivity(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	const total = 200
	for i := 0; i < total; i++ {
		enqueueTask(t, q, fmt.Sprintf(`{"n":%d}`, i))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Dequeue(ctx)
				if err != nil {
					t.Errorf("Dequeue error: %v", err)
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("dequeued %d distinct tasks, want %d", len(seen), total)
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("task %s dequeued %d times", id, count)
		}
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	first := enqueueTask(t, q, `{}`)
	enqueueTask(t, q, `{}`)

	peeked, err := q.Peek(ctx, 10)
	if err != nil {
		t.Fatalf("Peek error: %v", err)
	}
	if len(peeked) != 2 || peeked[0].ID != first.ID {
		t.Fatalf("Peek = %d items head %s, want 2 items head %s", len(peeked), peeked[0].ID, first.ID)
	}
	n, _ := q.Len(ctx)
	if n != 2 {
		t.Fatalf("Len after Peek = %d, want 2", n)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	task := enqueueTask(t, q, `{}`)

	// queued -> completed is illegal without processing in between.
	if err := q.Complete(ctx, task, json.RawMessage(`{}`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("Complete from queued error = %v, want ErrValidation", err)
	}

	if err := q.MarkProcessing(ctx, task); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}
	if task.StartedAt == nil {
		t.Fatal("MarkProcessing left StartedAt nil")
	}

	if err := q.Complete(ctx, task, json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if task.CompletedAt == nil {
		t.Fatal("Complete left CompletedAt nil")
	}

	// Terminal states have no exits.
	if err := q.Fail(ctx, task, "late failure"); !errors.Is(err, ErrValidation) {
		t.Fatalf("Fail after Complete error = %v, want ErrValidation", err)
	}

	stored, err := q.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("stored status = %q, want completed", stored.Status)
	}
	if string(stored.Result) != `{"ok":true}` {
		t.Fatalf("stored result = %s", stored.Result)
	}
}

func TestFailKeepsErrorMessage(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	task := enqueueTask(t, q, `{}`)
	if err := q.MarkProcessing(ctx, task); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}
	if err := q.Fail(ctx, task, "model unreachable"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	stored, err := q.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if stored.Status != StatusFailed || stored.Error != "model unreachable" {
		t.Fatalf("stored = (%q, %q), want (failed, model unreachable)", stored.Status, stored.Error)
	}
}

func TestGetUnknownTask(t *testing.T) {
	q := newTestQueue(t)
	task, err := q.Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if task != nil {
		t.Fatalf("Get unknown = %v, want nil", task)
	}
}

func TestClearRemovesEverything(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	task := enqueueTask(t, q, `{}`)
	enqueueTask(t, q, `{}`)

	if err := q.Clear(ctx); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	n, _ := q.Len(ctx)
	if n != 0 {
		t.Fatalf("Len after Clear = %d, want 0", n)
	}
	stored, err := q.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if stored != nil {
		t.Fatal("task record survived Clear")
	}
}

func TestQueueClockInjection(t *testing.T) {
	fixed := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	q := New(liststore.NewMemory(), WithClock(func() time.Time { return fixed }))
	task := enqueueTask(t, q, `{}`)
	if !task.CreatedAt.Equal(fixed) {
		t.Fatalf("CreatedAt = %v, want %v", task.CreatedAt, fixed)
	}
}
