package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/lexflow/internal/otel"
)

// Config selects the model backend.
type Config struct {
	// Provider is "google" or "anthropic". Empty defaults to "google".
	Provider string
	// Model is the model name for the configured provider.
	Model string
	// APIKey is the provider API key. Empty falls back to the provider's env var.
	APIKey string
	// Timeout bounds each call when the caller's Options carry none.
	Timeout time.Duration
	// Metrics, when set, records per-call durations.
	Metrics *otel.Metrics
}

// GenkitInvoker is an Invoker backed by Genkit. Without an API key it runs
// in a deterministic offline mode so local development and tests work
// keyless.
type GenkitInvoker struct {
	g        *genkit.Genkit
	provider string
	model    string
	timeout  time.Duration
	metrics  *otel.Metrics
	llmOn    bool
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	default:
		return "gemini-2.5-flash"
	}
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			return v
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
}

// NewGenkitInvoker initializes Genkit with the configured provider.
func NewGenkitInvoker(ctx context.Context, cfg Config) *GenkitInvoker {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelForProvider(provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			anthropicPlugin := &anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}
			g = genkit.Init(ctx, genkit.WithPlugins(anthropicPlugin))
			llmOn = true
			slog.Info("llm invoker initialized", "provider", "anthropic", "model", model)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Anthropic API key missing; using deterministic fallback")
		}

	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx,
				genkit.WithPlugins(&googlegenai.GoogleAI{}),
				genkit.WithDefaultModel("googleai/"+model),
			)
			llmOn = true
			slog.Info("llm invoker initialized", "provider", "google", "model", "googleai/"+model)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Google API key missing; using deterministic fallback")
		}

	default:
		g = genkit.Init(ctx)
		slog.Warn("unknown LLM provider, using deterministic fallback", "provider", provider)
	}

	return &GenkitInvoker{
		g:        g,
		provider: provider,
		model:    model,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		llmOn:    llmOn,
	}
}

// effectiveTimeout prefers the per-call timeout and falls back to the
// configured one.
func (inv *GenkitInvoker) effectiveTimeout(opts Options) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return inv.timeout
}

func (inv *GenkitInvoker) modelName() string {
	switch inv.provider {
	case "anthropic":
		return "anthropic/" + inv.model
	default:
		return "googleai/" + inv.model
	}
}

// Invoke sends prompt to the model and returns the reply text.
func (inv *GenkitInvoker) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", fmt.Errorf("empty prompt")
	}

	if timeout := inv.effectiveTimeout(opts); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if !inv.llmOn {
		// Deterministic offline reply keeps the pipeline exercisable keyless.
		return offlineReply(trimmed), nil
	}

	if inv.metrics != nil {
		started := time.Now()
		defer func() {
			inv.metrics.LLMCallDuration.Record(ctx, time.Since(started).Seconds(),
				metric.WithAttributes(attribute.String("model", inv.modelName())))
		}()
	}

	genOpts := []ai.GenerateOption{
		ai.WithModelName(inv.modelName()),
		ai.WithPrompt(trimmed),
	}
	if sys := strings.TrimSpace(opts.SystemInstruction); sys != "" {
		// Escape % characters to prevent fmt corruption in ai.WithSystem().
		genOpts = append(genOpts, ai.WithSystem(strings.ReplaceAll(sys, "%", "%%")))
	}
	if opts.Temperature > 0 {
		genOpts = append(genOpts, ai.WithConfig(map[string]any{"temperature": opts.Temperature}))
	}

	resp, err := genkit.Generate(ctx, inv.g, genOpts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	reply := resp.Text()
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("empty completion from model")
	}
	return reply, nil
}

func offlineReply(prompt string) string {
	const max = 120
	if len(prompt) > max {
		prompt = prompt[:max]
	}
	return "[offline] " + prompt
}
