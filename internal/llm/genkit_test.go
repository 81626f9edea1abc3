package llm

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestInvokeRejectsEmptyPrompt(t *testing.T) {
	inv := &GenkitInvoker{provider: "google", model: "gemini-2.5-flash"}
	if _, err := inv.Invoke(context.Background(), "   ", Options{}); err == nil {
		t.Fatal("Invoke with empty prompt did not error")
	}
}

func TestInvokeOfflineFallback(t *testing.T) {
	inv := &GenkitInvoker{provider: "google", model: "gemini-2.5-flash"}
	reply, err := inv.Invoke(context.Background(), "classify this communication", Options{})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if !strings.HasPrefix(reply, "[offline]") {
		t.Fatalf("offline reply = %q", reply)
	}
}

func TestEffectiveTimeout(t *testing.T) {
	inv := &GenkitInvoker{provider: "google", model: "gemini-2.5-flash", timeout: 30 * time.Second}

	if got := inv.effectiveTimeout(Options{}); got != 30*time.Second {
		t.Fatalf("effectiveTimeout with no override = %v, want 30s", got)
	}
	if got := inv.effectiveTimeout(Options{Timeout: 5 * time.Second}); got != 5*time.Second {
		t.Fatalf("effectiveTimeout with override = %v, want 5s", got)
	}

	unbounded := &GenkitInvoker{provider: "google", model: "gemini-2.5-flash"}
	if got := unbounded.effectiveTimeout(Options{}); got != 0 {
		t.Fatalf("effectiveTimeout unbounded = %v, want 0", got)
	}
}

func TestDefaultModelForProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"anthropic", "claude-sonnet-4-5"},
		{"google", "gemini-2.5-flash"},
		{"", "gemini-2.5-flash"},
	}
	for _, tt := range tests {
		if got := defaultModelForProvider(tt.provider); got != tt.want {
			t.Fatalf("defaultModelForProvider(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestModelName(t *testing.T) {
	inv := &GenkitInvoker{provider: "anthropic", model: "claude-sonnet-4-5"}
	if got := inv.modelName(); got != "anthropic/claude-sonnet-4-5" {
		t.Fatalf("modelName = %q", got)
	}
	inv = &GenkitInvoker{provider: "google", model: "gemini-2.5-flash"}
	if got := inv.modelName(); got != "googleai/gemini-2.5-flash" {
		t.Fatalf("modelName = %q", got)
	}
}
