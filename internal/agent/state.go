// Package agent defines the contract a task-processing agent must satisfy
// and the per-run execution state threaded through its steps. Agents are
// decomposed into steps; the step boundary is the unit of cancellation.
package agent

import (
	"context"
	"fmt"
	"time"
)

// State is the ephemeral execution state of one run. It is created at run
// start and discarded after the terminal write-back; nothing here is
// persisted between attempts. Messages only ever grows; Data is merged
// last-write-wins per key.
type State struct {
	Messages      []string
	CurrentStep   string
	Data          map[string]string
	Completed     bool
	RetryCount    int
	MaxRetries    int
	StartedAt     time.Time
	LastUpdatedAt time.Time
}

// NewState creates a fresh run state.
func NewState(maxRetries int) *State {
	now := time.Now().UTC()
	return &State{
		Data:          map[string]string{},
		MaxRetries:    maxRetries,
		StartedAt:     now,
		LastUpdatedAt: now,
	}
}

// AppendMessage adds one entry to the audit trail.
func (s *State) AppendMessage(format string, args ...any) {
	s.Messages = append(s.Messages, fmt.Sprintf(format, args...))
	s.LastUpdatedAt = time.Now().UTC()
}

// Set stores one data key, overwriting any previous value.
func (s *State) Set(key, value string) {
	s.Data[key] = value
	s.LastUpdatedAt = time.Now().UTC()
}

// Get reads one data key.
func (s *State) Get(key string) (string, bool) {
	v, ok := s.Data[key]
	return v, ok
}

// Merge shallow-merges values into the data bag, last write wins per key.
func (s *State) Merge(values map[string]string) {
	for k, v := range values {
		s.Data[k] = v
	}
	s.LastUpdatedAt = time.Now().UTC()
}

// Checkpoint marks a step boundary. It records the step label and returns
// the context error if cancellation or timeout was requested; agents must
// call it before starting each step and stop when it returns non-nil. A step
// already in flight is allowed to finish; this is the only place the run is
// obliged to observe the signal.
func (s *State) Checkpoint(ctx context.Context, step string) error {
	if err := ctx.Err(); err != nil {
		s.AppendMessage("run halted before step %q: %v", step, err)
		return err
	}
	s.CurrentStep = step
	s.LastUpdatedAt = time.Now().UTC()
	return nil
}

// Agent is one task-processing implementation. Run executes the agent's step
// sequence against st, setting st.Completed on success. Run must be safe to
// re-execute from a fresh State: a retry restarts the whole run, so any side
// effects of early steps have to be idempotent.
type Agent interface {
	ID() string
	Run(ctx context.Context, st *State) error
}
