// Package llm wraps the model backend behind a single Invoke call. Failures
// always surface as errors; an empty completion is an error, never a silent
// empty result.
package llm

import (
	"context"
	"time"
)

// Options tune one invocation.
type Options struct {
	SystemInstruction string
	Temperature       float64
	// Timeout bounds the call. Zero means no extra bound beyond ctx.
	Timeout time.Duration
}

// Invoker sends one prompt to the model backend and returns the text reply.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, opts Options) (string, error)
}
