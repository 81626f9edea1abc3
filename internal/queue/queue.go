// Package queue implements the durable FIFO task store and the dedup marker
// set on top of the list-store primitives. Enqueue and dequeue are atomic at
// the store level; there is no in-flight list, so a consumer that crashes
// between Dequeue and terminal write-back loses the task. That at-most-once
// ceiling is a deliberate design decision, not an oversight.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/basket/lexflow/internal/liststore"
	"github.com/google/uuid"
)

const (
	defaultPendingKey = "tasks:pending"
	defaultIndexKey   = "tasks:index"
	recordKeyPrefix   = "task:"
)

// Queue is the durable FIFO task store. Safe for concurrent producers and
// consumers; each task is delivered to exactly one consumer.
type Queue struct {
	client     liststore.Client
	pendingKey string
	indexKey   string
	now        func() time.Time
}

// Option adjusts queue construction.
type Option func(*Queue)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithKeyPrefix namespaces the queue's store keys.
func WithKeyPrefix(prefix string) Option {
	return func(q *Queue) {
		q.pendingKey = prefix + ":" + defaultPendingKey
		q.indexKey = prefix + ":" + defaultIndexKey
	}
}

// New creates a Queue over the given store client.
func New(client liststore.Client, opts ...Option) *Queue {
	q := &Queue{
		client:     client,
		pendingKey: defaultPendingKey,
		indexKey:   defaultIndexKey,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func recordKey(id string) string { return recordKeyPrefix + id }

// Enqueue validates the task, assigns id/createdAt when absent, persists the
// task record, and appends it to the tail of the pending list. Returns the
// new pending length.
func (q *Queue) Enqueue(ctx context.Context, task *AgentTask) (int, error) {
	if err := task.Validate(); err != nil {
		return 0, err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = StatusQueued
	}
	if task.Status != StatusQueued {
		return 0, fmt.Errorf("%w: new task must be queued, got %q", ErrValidation, task.Status)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.now().UTC()
	}

	if err := q.saveRecord(ctx, task); err != nil {
		return 0, err
	}
	if _, err := q.client.Append(ctx, q.indexKey, []byte(task.ID)); err != nil {
		return 0, fmt.Errorf("index task %s: %w", task.ID, err)
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return 0, fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	length, err := q.client.Append(ctx, q.pendingKey, raw)
	if err != nil {
		return 0, fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return length, nil
}

// Dequeue atomically removes and returns the head of the queue, or (nil, nil)
// when the queue is empty. A store failure is returned as-is and must never
// be read as an empty queue.
func (q *Queue) Dequeue(ctx context.Context) (*AgentTask, error) {
	raw, err := q.client.Pop(ctx, q.pendingKey)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var task AgentTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("%w: decode dequeued task: %v", ErrValidation, err)
	}
	return &task, nil
}

// Peek returns up to n pending tasks in order without removing them. The
// snapshot is eventually consistent and may race concurrent dequeuers.
func (q *Queue) Peek(ctx context.Context, n int) ([]AgentTask, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := q.client.Range(ctx, q.pendingKey, 0, n-1)
	if err != nil {
		return nil, fmt.Errorf("peek: %w", err)
	}
	out := make([]AgentTask, 0, len(items))
	for _, raw := range items {
		var task AgentTask
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, fmt.Errorf("%w: decode peeked task: %v", ErrValidation, err)
		}
		out = append(out, task)
	}
	return out, nil
}

// Len returns the number of pending tasks.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.client.Len(ctx, q.pendingKey)
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Clear removes all pending tasks, task records, and the index.
func (q *Queue) Clear(ctx context.Context) error {
	ids, err := q.indexIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := q.client.Delete(ctx, recordKey(id)); err != nil {
			return fmt.Errorf("clear record %s: %w", id, err)
		}
	}
	if err := q.client.Delete(ctx, q.indexKey); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if err := q.client.Delete(ctx, q.pendingKey); err != nil {
		return fmt.Errorf("clear pending: %w", err)
	}
	return nil
}

// Get loads the persisted record for a task id, or (nil, nil) when unknown.
func (q *Queue) Get(ctx context.Context, id string) (*AgentTask, error) {
	raw, ok, err := q.client.Get(ctx, recordKey(id))
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	var task AgentTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("%w: decode task record %s: %v", ErrValidation, id, err)
	}
	return &task, nil
}

// MarkProcessing transitions the task to processing and stamps StartedAt
// exactly once. The caller owns the task copy; the record is written back.
func (q *Queue) MarkProcessing(ctx context.Context, task *AgentTask) error {
	if !task.Status.CanTransition(StatusProcessing) {
		return fmt.Errorf("%w: illegal transition %s -> processing for task %s", ErrValidation, task.Status, task.ID)
	}
	task.Status = StatusProcessing
	if task.StartedAt == nil {
		now := q.now().UTC()
		task.StartedAt = &now
	}
	return q.saveRecord(ctx, task)
}

// Complete writes the terminal completed record with its result payload.
func (q *Queue) Complete(ctx context.Context, task *AgentTask, result json.RawMessage) error {
	if !task.Status.CanTransition(StatusCompleted) {
		return fmt.Errorf("%w: illegal transition %s -> completed for task %s", ErrValidation, task.Status, task.ID)
	}
	task.Status = StatusCompleted
	task.Result = result
	task.Error = ""
	if task.CompletedAt == nil {
		now := q.now().UTC()
		task.CompletedAt = &now
	}
	return q.saveRecord(ctx, task)
}

// Fail writes the terminal failed record, keeping the last error message
// visible for audit until retention cleanup removes it.
func (q *Queue) Fail(ctx context.Context, task *AgentTask, errMsg string) error {
	if !task.Status.CanTransition(StatusFailed) {
		return fmt.Errorf("%w: illegal transition %s -> failed for task %s", ErrValidation, task.Status, task.ID)
	}
	task.Status = StatusFailed
	task.Error = errMsg
	if task.CompletedAt == nil {
		now := q.now().UTC()
		task.CompletedAt = &now
	}
	return q.saveRecord(ctx, task)
}

func (q *Queue) saveRecord(ctx context.Context, task *AgentTask) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task record %s: %w", task.ID, err)
	}
	if err := q.client.Set(ctx, recordKey(task.ID), string(raw)); err != nil {
		return fmt.Errorf("save task record %s: %w", task.ID, err)
	}
	return nil
}

func (q *Queue) indexIDs(ctx context.Context) ([]string, error) {
	items, err := q.client.Range(ctx, q.indexKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read task index: %w", err)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, string(item))
	}
	return ids, nil
}
