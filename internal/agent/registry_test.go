package agent

import (
	"context"
	"testing"
	"time"
)

type nopAgent struct{ id string }

func (a nopAgent) ID() string { return a.id }

func (a nopAgent) Run(ctx context.Context, st *State) error {
	st.Completed = true
	return nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	opts := Options{MaxRetries: 2, Timeout: time.Minute}
	if err := r.Register(nopAgent{id: "analysis"}, opts); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	a, got, ok := r.Get("analysis")
	if !ok {
		t.Fatal("Get did not find registered agent")
	}
	if a.ID() != "analysis" || got.MaxRetries != 2 || got.Timeout != time.Minute {
		t.Fatalf("Get = (%s, %+v)", a.ID(), got)
	}

	if _, _, ok := r.Get("unknown"); ok {
		t.Fatal("Get found unknown agent")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nopAgent{id: "analysis"}, Options{}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := r.Register(nopAgent{id: "analysis"}, Options{}); err == nil {
		t.Fatal("duplicate Register did not error")
	}
	if err := r.Register(nopAgent{id: ""}, Options{}); err == nil {
		t.Fatal("empty id Register did not error")
	}
	if got := len(r.List()); got != 1 {
		t.Fatalf("List length = %d, want 1", got)
	}
}
