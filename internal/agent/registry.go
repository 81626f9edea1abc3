package agent

import (
	"fmt"
	"sync"
	"time"
)

// Options bound one agent's executions.
type Options struct {
	// MaxRetries is the total attempt budget per task. Zero takes the
	// runner's default.
	MaxRetries int
	// Timeout is the wall-clock budget per attempt. Zero takes the runner's
	// default.
	Timeout time.Duration
}

type entry struct {
	agent Agent
	opts  Options
}

// Registry maps agent ids to their implementations and execution options.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]entry)}
}

// Register adds an agent. Registering a duplicate id is an error.
func (r *Registry) Register(a Agent, opts Options) error {
	if a == nil || a.ID() == "" {
		return fmt.Errorf("agent id must be non-empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.ID()]; exists {
		return fmt.Errorf("agent %q already registered", a.ID())
	}
	r.agents[a.ID()] = entry{agent: a, opts: opts}
	return nil
}

// Get returns the agent and options for id.
func (r *Registry) Get(id string) (Agent, Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	return e.agent, e.opts, ok
}

// List returns the registered agent ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}
