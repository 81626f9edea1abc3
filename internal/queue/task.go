package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrValidation marks a malformed task or record. Never enqueued, never retried.
var ErrValidation = errors.New("validation failed")

// Status is the lifecycle state of an AgentTask. Transitions are monotonic:
// queued → processing → completed | failed. Terminal states have no exits.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusQueued: {
		StatusProcessing: {},
	},
	StatusProcessing: {
		StatusCompleted: {},
		StatusFailed:    {},
	},
}

// CanTransition reports whether moving from s to next is a legal step.
func (s Status) CanTransition(next Status) bool {
	_, ok := allowedTransitions[s][next]
	return ok
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// AgentTask is the unit of work flowing through the queue. The JSON shape is
// the wire contract with the surrounding application.
type AgentTask struct {
	ID          string          `json:"id"`
	AgentID     string          `json:"agentId"`
	Type        string          `json:"type"`
	Status      Status          `json:"status"`
	Priority    string          `json:"priority,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Validate checks the fields a task must carry before it may be enqueued.
func (t *AgentTask) Validate() error {
	if t.AgentID == "" {
		return fmt.Errorf("%w: agentId must be non-empty", ErrValidation)
	}
	if t.Type == "" {
		return fmt.Errorf("%w: type must be non-empty", ErrValidation)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, t.Status)
	}
	return nil
}
