// Package runner executes queued analysis tasks against registered agents.
// A fixed worker pool polls the queue; each claimed task gets a bounded number
// of whole-run attempts under a wall-clock timeout, with cooperative
// cancellation observed at step boundaries.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/lexflow/internal/agent"
	"github.com/basket/lexflow/internal/bus"
	"github.com/basket/lexflow/internal/otel"
	"github.com/basket/lexflow/internal/queue"
	"github.com/basket/lexflow/internal/shared"
	"github.com/basket/lexflow/internal/status"
)

// Config tunes the engine. Zero values take the defaults in New.
type Config struct {
	WorkerCount  int
	PollInterval time.Duration
	// TaskTimeout bounds one attempt unless the agent's options override it.
	TaskTimeout time.Duration
	// MaxRetries is the total attempt budget per task unless the agent's
	// options override it. A task is attempted at most this many times.
	MaxRetries int
	// RetryDelay is the fixed pause before each re-attempt.
	RetryDelay time.Duration
	// CancelGrace bounds how long a canceled run may wait for its in-flight
	// step to finish before the runner stops waiting.
	CancelGrace time.Duration

	Bus     *bus.Bus
	Metrics *otel.Metrics
	Tracker *status.Tracker
	Logger  *slog.Logger
}

// runHandle is the live control surface of one in-flight task.
type runHandle struct {
	cancel    context.CancelFunc
	requested atomic.Bool // operator cancellation was asked for
}

// Engine drives the worker pool.
type Engine struct {
	queue    *queue.Queue
	registry *agent.Registry
	config   Config
	bus      *bus.Bus
	metrics  *otel.Metrics
	tracker  *status.Tracker
	logger   *slog.Logger

	once sync.Once
	wg   sync.WaitGroup

	runMu sync.RWMutex
	runs  map[string]*runHandle

	lastError atomic.Pointer[string]
}

// New creates an Engine over the queue and agent registry.
func New(q *queue.Queue, reg *agent.Registry, cfg Config) *Engine {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		queue:    q,
		registry: reg,
		config:   cfg,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		tracker:  cfg.Tracker,
		logger:   logger,
		runs:     map[string]*runHandle{},
	}
}

// Start launches the worker pool. Safe to call more than once; only the first
// call takes effect. Workers stop when ctx is canceled.
func (e *Engine) Start(ctx context.Context) {
	e.once.Do(func() {
		for i := 0; i < e.config.WorkerCount; i++ {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.worker(ctx)
			}()
		}
		e.logger.Info("runner started", "workers", e.config.WorkerCount)
	})
}

// Wait blocks until all workers have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Drain waits up to timeout for active runs to finish. Tasks still in flight
// after the timeout are lost; a dequeued task is delivered at most once.
func (e *Engine) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("runner drained cleanly")
	case <-time.After(timeout):
		e.logger.Warn("runner drain timeout; abandoning in-flight runs", "timeout", timeout)
	}
}

func (e *Engine) worker(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := e.claim(ctx)
		if err != nil {
			e.setLastError(err)
		}
		if err != nil || task == nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}
		e.handleTask(ctx, task)
	}
}

// claim dequeues one task and moves it to processing. A nil, nil return means
// the queue was empty.
func (e *Engine) claim(ctx context.Context) (*queue.AgentTask, error) {
	task, err := e.queue.Dequeue(ctx)
	if err != nil || task == nil {
		return nil, err
	}
	if err := e.queue.MarkProcessing(ctx, task); err != nil {
		return nil, fmt.Errorf("mark processing %s: %w", task.ID, err)
	}
	e.observeQueueDepth(ctx)
	e.publish(bus.TopicTaskProcessing, task, 0, "")
	return task, nil
}

func (e *Engine) handleTask(ctx context.Context, task *queue.AgentTask) {
	traceID := shared.NewTraceID()
	ctx = shared.WithTraceID(ctx, traceID)
	ctx = shared.WithTaskID(ctx, task.ID)
	logger := e.logger.With("task_id", task.ID, "agent_id", task.AgentID, "trace_id", traceID)

	a, opts, ok := e.registry.Get(task.AgentID)
	if !ok {
		logger.Error("no agent registered for task")
		e.finishFailed(ctx, task, fmt.Sprintf("no agent registered: %s", task.AgentID), 0, 0, nil)
		return
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.config.TaskTimeout
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.config.MaxRetries
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	handle := &runHandle{cancel: cancel}
	e.runMu.Lock()
	e.runs[task.ID] = handle
	e.runMu.Unlock()
	defer func() {
		e.runMu.Lock()
		delete(e.runs, task.ID)
		e.runMu.Unlock()
	}()

	if e.tracker != nil {
		e.tracker.RunStarted(task.AgentID)
	}
	if e.metrics != nil {
		e.metrics.ActiveRuns.Add(ctx, 1)
		defer e.metrics.ActiveRuns.Add(ctx, -1)
	}
	started := time.Now()
	logger.Info("task processing", "max_retries", maxRetries, "timeout", timeout)

	// The audit log survives restarts: each attempt's messages are collected
	// here before its state is discarded.
	var messages []string
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			e.publish(bus.TopicTaskRetrying, task, attempt, lastErr.Error())
			if e.metrics != nil {
				e.metrics.TaskRetries.Add(ctx, 1)
			}
			logger.Warn("retrying task from scratch", "attempt", attempt, "error", lastErr)
			if err := sleepCtx(taskCtx, e.config.RetryDelay); err != nil {
				// Only cancellation interrupts the delay.
				logger.Info("task canceled during retry delay", "attempt", attempt)
				e.finishCanceled(ctx, task, attempt, time.Since(started), messages)
				e.recordDuration(ctx, started, "canceled")
				return
			}
		}

		// Every attempt restarts the whole run on a fresh state.
		st := agent.NewState(maxRetries)
		st.RetryCount = attempt
		st.Set("payload", string(task.Data))

		err := e.runAttempt(taskCtx, a, st, timeout)
		messages = append(messages, st.Messages...)

		if err == nil && st.Completed {
			e.finishCompleted(ctx, task, st, messages, time.Since(started), logger)
			e.recordDuration(ctx, started, "completed")
			return
		}
		if err == nil {
			err = fmt.Errorf("agent returned without completing")
		}
		if handle.requested.Load() || errors.Is(err, context.Canceled) {
			logger.Info("task canceled", "attempt", attempt, "step", st.CurrentStep)
			e.finishCanceled(ctx, task, attempt, time.Since(started), messages)
			e.recordDuration(ctx, started, "canceled")
			return
		}
		// Timeouts and agent errors both burn one attempt.
		lastErr = err
		messages = append(messages, fmt.Sprintf("attempt %d failed: %v", attempt, lastErr))
	}

	logger.Error("task failed after exhausting attempts", "attempts", maxRetries, "error", lastErr)
	e.finishFailed(ctx, task, fmt.Sprintf("after %d attempts: %v", maxRetries, lastErr), maxRetries, time.Since(started), messages)
	e.recordDuration(ctx, started, "failed")
}

// runAttempt runs one attempt under the wall-clock timeout. A timeout stops
// the wait immediately; an operator cancel waits up to the grace period for
// the in-flight step to reach its boundary.
func (e *Engine) runAttempt(ctx context.Context, a agent.Agent, st *agent.State, timeout time.Duration) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.Run(attemptCtx, st)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			// Wall-clock bound: do not wait for a stuck step. The abandoned
			// goroutine halts at its next checkpoint.
			return attemptCtx.Err()
		}
		grace := time.NewTimer(e.config.CancelGrace)
		defer grace.Stop()
		select {
		case err := <-done:
			return err
		case <-grace.C:
			return attemptCtx.Err()
		}
	}
}

// runResult is the terminal result payload written back to the task record.
// Messages carry the full audit log across all attempts, whatever the outcome.
type runResult struct {
	Completed  bool              `json:"completed"`
	RetryCount int               `json:"retryCount"`
	Data       map[string]string `json:"data,omitempty"`
	Messages   []string          `json:"messages,omitempty"`
}

func marshalRunResult(r runResult) json.RawMessage {
	raw, err := json.Marshal(r)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"completed":%t}`, r.Completed))
	}
	return raw
}

func (e *Engine) finishCompleted(ctx context.Context, task *queue.AgentTask, st *agent.State, messages []string, latency time.Duration, logger *slog.Logger) {
	result := marshalRunResult(runResult{
		Completed:  true,
		RetryCount: st.RetryCount,
		Data:       st.Data,
		Messages:   messages,
	})
	if err := e.queue.Complete(context.WithoutCancel(ctx), task, result); err != nil {
		e.setLastError(err)
		logger.Error("task completion write-back failed", "error", err)
	}
	logger.Info("task completed", "attempt", st.RetryCount)
	if e.tracker != nil {
		e.tracker.RunCompleted(task.AgentID, latency)
	}
	if e.metrics != nil {
		e.metrics.TasksCompleted.Add(ctx, 1)
	}
	e.publish(bus.TopicTaskCompleted, task, st.RetryCount, "")
}

func (e *Engine) finishFailed(ctx context.Context, task *queue.AgentTask, msg string, attempt int, latency time.Duration, messages []string) {
	// The last error joins the audit log on the failed record.
	task.Result = marshalRunResult(runResult{
		RetryCount: attempt,
		Messages:   append(messages, msg),
	})
	if err := e.queue.Fail(context.WithoutCancel(ctx), task, msg); err != nil {
		e.setLastError(err)
		e.logger.Error("task failure write-back failed", "task_id", task.ID, "error", err)
	}
	e.setLastError(errors.New(msg))
	if e.tracker != nil {
		e.tracker.RunFailed(task.AgentID, latency, msg)
	}
	if e.metrics != nil {
		e.metrics.TasksFailed.Add(ctx, 1)
	}
	e.publish(bus.TopicTaskFailed, task, attempt, msg)
}

func (e *Engine) finishCanceled(ctx context.Context, task *queue.AgentTask, attempt int, latency time.Duration, messages []string) {
	task.Result = marshalRunResult(runResult{
		RetryCount: attempt,
		Messages:   append(messages, "run canceled"),
	})
	if err := e.queue.Fail(context.WithoutCancel(ctx), task, "canceled"); err != nil {
		e.setLastError(err)
		e.logger.Error("task cancel write-back failed", "task_id", task.ID, "error", err)
	}
	if e.tracker != nil {
		e.tracker.RunCanceled(task.AgentID, latency)
	}
	if e.metrics != nil {
		e.metrics.TasksCanceled.Add(ctx, 1)
	}
	e.publish(bus.TopicTaskCanceled, task, attempt, "canceled")
}

// Execute runs one dequeued task synchronously, outside the worker pool. The
// task moves to processing first; the same retry, timeout, and cancellation
// rules apply as for pool-claimed tasks.
func (e *Engine) Execute(ctx context.Context, task *queue.AgentTask) error {
	if err := e.queue.MarkProcessing(ctx, task); err != nil {
		return fmt.Errorf("mark processing %s: %w", task.ID, err)
	}
	e.publish(bus.TopicTaskProcessing, task, 0, "")
	e.handleTask(ctx, task)
	return nil
}

// Cancel requests cooperative cancellation of an in-flight task. The run's
// current step finishes; the run stops at the next step boundary and is not
// retried. Returns false when the task is not currently running.
func (e *Engine) Cancel(taskID string) bool {
	e.runMu.RLock()
	handle, ok := e.runs[taskID]
	e.runMu.RUnlock()
	if !ok {
		return false
	}
	handle.requested.Store(true)
	handle.cancel()
	return true
}

// ActiveCount returns the number of in-flight runs.
func (e *Engine) ActiveCount() int {
	e.runMu.RLock()
	defer e.runMu.RUnlock()
	return len(e.runs)
}

// LastError returns the most recent engine-level error message, if any.
func (e *Engine) LastError() string {
	if ptr := e.lastError.Load(); ptr != nil {
		return *ptr
	}
	return ""
}

func (e *Engine) observeQueueDepth(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	n, err := e.queue.Len(ctx)
	if err != nil {
		return
	}
	e.metrics.QueueDepth.Record(ctx, int64(n))
}

func (e *Engine) recordDuration(ctx context.Context, started time.Time, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.TaskDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (e *Engine) publish(topic string, task *queue.AgentTask, attempt int, errMsg string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(topic, bus.TaskEvent{
		TaskID:  task.ID,
		AgentID: task.AgentID,
		Status:  string(task.Status),
		Attempt: attempt,
		Error:   errMsg,
	})
}

func (e *Engine) setLastError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	e.lastError.Store(&msg)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
