// Package status tracks run outcomes for pull-based health reporting. The
// tracker aggregates what the runner and pipeline report into it; the queue is
// only read when a snapshot is taken, and a failed read degrades the snapshot
// rather than erroring.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/basket/lexflow/internal/queue"
)

// QueueReader is the read-only queue view a snapshot samples.
type QueueReader interface {
	Len(ctx context.Context) (int, error)
	Peek(ctx context.Context, n int) ([]queue.AgentTask, error)
}

// Config sets the health thresholds. Zero values take the defaults.
type Config struct {
	// FailureRateThreshold marks an agent degraded when its failure rate over
	// the sliding window reaches it. Default 0.5.
	FailureRateThreshold float64
	// MinSamples is how many finished runs an agent's window needs before the
	// rate is meaningful. Default 4.
	MinSamples int
	// WindowSize caps the sliding window of recent run outcomes per agent.
	// Default 20.
	WindowSize int
	// SampleSize caps the pending-task sample in a snapshot. Default 5.
	SampleSize int

	// Queue, when set, is sampled for depth and pending tasks at snapshot
	// time.
	Queue QueueReader
}

func (c Config) withDefaults() Config {
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.5
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 4
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 5
	}
	return c
}

// AgentStats is one agent's running counters, updated at terminal write-back.
type AgentStats struct {
	Executions          int64   `json:"executions"`
	Successes           int64   `json:"successes"`
	Failures            int64   `json:"failures"`
	Cancellations       int64   `json:"cancellations"`
	CumulativeLatencyMs int64   `json:"cumulativeLatencyMs"`
	FailureRate         float64 `json:"failureRate"`
	Healthy             bool    `json:"healthy"`
}

// Snapshot is a point-in-time view of the subsystem. Partial is set when the
// queue could not be read; the run counters are still valid in that case.
type Snapshot struct {
	Healthy        bool                  `json:"healthy"`
	Degraded       bool                  `json:"degraded"`
	Partial        bool                  `json:"partial,omitempty"`
	QueueDepth     int                   `json:"queueDepth"`
	Pending        []queue.AgentTask     `json:"pending,omitempty"`
	ActiveRuns     int                   `json:"activeRuns"`
	Agents         map[string]AgentStats `json:"agents,omitempty"`
	TotalRuns      int64                 `json:"totalRuns"`
	TotalCompleted int64                 `json:"totalCompleted"`
	TotalFailed    int64                 `json:"totalFailed"`
	TotalCanceled  int64                 `json:"totalCanceled"`
	LastRunAt      *time.Time            `json:"lastRunAt,omitempty"`
	LastSyncAt     *time.Time            `json:"lastSyncAt,omitempty"`
	LastError      string                `json:"lastError,omitempty"`
}

type agentState struct {
	executions        int64
	successes         int64
	failures          int64
	cancellations     int64
	cumulativeLatency time.Duration
	window            []bool // true = failed
}

// Tracker aggregates run outcomes per agent. Safe for concurrent use.
type Tracker struct {
	cfg Config

	mu         sync.Mutex
	active     int
	agents     map[string]*agentState
	lastRunAt  *time.Time
	lastSyncAt *time.Time
	lastError  string

	now func() time.Time
}

// NewTracker creates a Tracker with the given thresholds.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:    cfg.withDefaults(),
		agents: map[string]*agentState{},
		now:    time.Now,
	}
}

func (t *Tracker) agentLocked(agentID string) *agentState {
	a, ok := t.agents[agentID]
	if !ok {
		a = &agentState{}
		t.agents[agentID] = a
	}
	return a
}

// RunStarted records that a task run began.
func (t *Tracker) RunStarted(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active++
}

// RunCompleted records a successful run and its wall-clock latency.
func (t *Tracker) RunCompleted(agentID string, latency time.Duration) {
	t.finishRun(agentID, latency, false, false, "")
}

// RunFailed records a run that exhausted its attempts.
func (t *Tracker) RunFailed(agentID string, latency time.Duration, errMsg string) {
	t.finishRun(agentID, latency, true, false, errMsg)
}

// RunCanceled records an operator-canceled run. Cancellations are counted but
// excluded from the failure rate; an operator stopping work is not a fault.
func (t *Tracker) RunCanceled(agentID string, latency time.Duration) {
	t.finishRun(agentID, latency, false, true, "")
}

func (t *Tracker) finishRun(agentID string, latency time.Duration, failed, canceled bool, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active > 0 {
		t.active--
	}
	now := t.now().UTC()
	t.lastRunAt = &now

	a := t.agentLocked(agentID)
	a.executions++
	a.cumulativeLatency += latency
	switch {
	case canceled:
		a.cancellations++
	case failed:
		a.failures++
		t.lastError = errMsg
	default:
		a.successes++
	}
	if !canceled {
		a.window = append(a.window, failed)
		if len(a.window) > t.cfg.WindowSize {
			a.window = a.window[len(a.window)-t.cfg.WindowSize:]
		}
	}
}

// SyncObserved records that an ingestion cycle finished.
func (t *Tracker) SyncObserved() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now().UTC()
	t.lastSyncAt = &now
}

func (t *Tracker) statsLocked(a *agentState) AgentStats {
	rate := 0.0
	if len(a.window) > 0 {
		fails := 0
		for _, f := range a.window {
			if f {
				fails++
			}
		}
		rate = float64(fails) / float64(len(a.window))
	}
	degraded := len(a.window) >= t.cfg.MinSamples && rate >= t.cfg.FailureRateThreshold
	return AgentStats{
		Executions:          a.executions,
		Successes:           a.successes,
		Failures:            a.failures,
		Cancellations:       a.cancellations,
		CumulativeLatencyMs: a.cumulativeLatency.Milliseconds(),
		FailureRate:         rate,
		Healthy:             !degraded,
	}
}

// Snapshot returns the current aggregate view. A queue read failure marks the
// snapshot partial and omits the depth and pending sample; it never fails the
// call.
func (t *Tracker) Snapshot(ctx context.Context) Snapshot {
	t.mu.Lock()
	snap := Snapshot{
		Healthy:    true,
		ActiveRuns: t.active,
		Agents:     make(map[string]AgentStats, len(t.agents)),
		LastRunAt:  t.lastRunAt,
		LastSyncAt: t.lastSyncAt,
		LastError:  t.lastError,
	}
	for id, a := range t.agents {
		stats := t.statsLocked(a)
		snap.Agents[id] = stats
		snap.TotalRuns += stats.Executions
		snap.TotalCompleted += stats.Successes
		snap.TotalFailed += stats.Failures
		snap.TotalCanceled += stats.Cancellations
		if !stats.Healthy {
			snap.Healthy = false
		}
	}
	snap.Degraded = !snap.Healthy
	q, sample := t.cfg.Queue, t.cfg.SampleSize
	t.mu.Unlock()

	if q == nil {
		return snap
	}
	depth, err := q.Len(ctx)
	if err != nil {
		snap.Partial = true
		return snap
	}
	snap.QueueDepth = depth
	pending, err := q.Peek(ctx, sample)
	if err != nil {
		snap.Partial = true
		return snap
	}
	snap.Pending = pending
	return snap
}
