// Command lexflowd runs the task-orchestration daemon: the ingestion
// scheduler, the worker pool, and the admin HTTP API.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/lexflow/internal/agent"
	"github.com/basket/lexflow/internal/bus"
	"github.com/basket/lexflow/internal/config"
	cronPkg "github.com/basket/lexflow/internal/cron"
	"github.com/basket/lexflow/internal/gateway"
	"github.com/basket/lexflow/internal/ingest"
	"github.com/basket/lexflow/internal/liststore"
	"github.com/basket/lexflow/internal/llm"
	otelPkg "github.com/basket/lexflow/internal/otel"
	"github.com/basket/lexflow/internal/queue"
	"github.com/basket/lexflow/internal/runner"
	"github.com/basket/lexflow/internal/status"
	"github.com/basket/lexflow/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func main() {
	loadDotEnv(".env")

	quiet := flag.Bool("quiet", false, "log to file only, not stdout")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("lexflowd", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *quiet); err != nil {
		fmt.Fprintln(os.Stderr, "lexflowd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, quiet bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if isatty.IsTerminal(os.Stdout.Fd()) && !quiet {
		fmt.Printf("lexflowd %s listening on %s (home: %s)\n", Version, cfg.BindAddr, cfg.HomeDir)
	}
	logger.Info("starting lexflowd",
		"version", Version,
		"bind_addr", cfg.BindAddr,
		"workers", cfg.WorkerCount,
		"watches", len(cfg.Watches),
		"fingerprint", cfg.Fingerprint(),
	)

	provider, err := otelPkg.Init(ctx, cfg.Otel)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store, err := liststore.OpenSQLite(ctx, filepath.Join(cfg.HomeDir, "store.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	q := queue.New(store)
	dedup := queue.NewDedupStore(store)
	eventBus := bus.New()
	tracker := status.NewTracker(status.Config{
		FailureRateThreshold: cfg.Health.FailureRateThreshold,
		MinSamples:           cfg.Health.MinSamples,
		WindowSize:           cfg.Health.WindowSize,
		Queue:                q,
	})

	invoker := llm.NewGenkitInvoker(ctx, llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		Timeout:  time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Metrics:  metrics,
	})

	registry := agent.NewRegistry()
	if err := registry.Register(agent.NewAnalysisAgent(ingest.DefaultAgentID, invoker), agent.Options{}); err != nil {
		return fmt.Errorf("register analysis agent: %w", err)
	}

	engine := runner.New(q, registry, runner.Config{
		WorkerCount: cfg.WorkerCount,
		TaskTimeout: cfg.TaskTimeout(),
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay(),
		Bus:         eventBus,
		Metrics:     metrics,
		Tracker:     tracker,
		Logger:      logger,
	})
	engine.Start(ctx)

	pipeline := ingest.NewPipeline(ingest.Config{
		Source: ingest.NewHTTPSource(cfg.Source.BaseURL, cfg.Source.APIKey),
		Policy: ingest.FetchPolicy{
			Timeout:      time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
			RequestDelay: time.Duration(cfg.Source.RequestDelayMs) * time.Millisecond,
			Retries:      cfg.Source.Retries,
			RetryDelay:   time.Duration(cfg.Source.RetryDelayMs) * time.Millisecond,
		},
		Queue:  q,
		Dedup:  dedup,
		Bus:    eventBus,
		Logger: logger,
	})

	syncWatch := func(ctx context.Context, w config.WatchConfig) gateway.SyncResult {
		started := time.Now()
		from, to := ingest.WindowEnding(time.Now(), w.WindowDays)
		summary, err := pipeline.Sync(ctx, ingest.Query{
			Identity:     ingest.Identity{Name: w.Name, Registration: w.Registration},
			Jurisdiction: w.Jurisdiction,
			From:         from,
			To:           to,
		})
		tracker.SyncObserved()
		metrics.SyncDuration.Record(ctx, time.Since(started).Seconds())
		metrics.IngestRecords.Add(ctx, int64(summary.Ingested))
		metrics.IngestDuplicates.Add(ctx, int64(summary.Duplicates))
		metrics.TasksEnqueued.Add(ctx, int64(summary.Ingested))
		eventBus.Publish(bus.TopicIngestCycle, bus.IngestCycleEvent{
			Identity:   w.Name,
			Ingested:   summary.Ingested,
			Duplicates: summary.Duplicates,
			Failed:     summary.Failed,
		})
		result := gateway.SyncResult{Watch: w.Name, Summary: summary}
		if err != nil {
			result.Error = err.Error()
		}
		return result
	}

	syncFn := func(ctx context.Context, name string) ([]gateway.SyncResult, error) {
		var results []gateway.SyncResult
		for _, w := range cfg.Watches {
			if name != "" && w.Name != name {
				continue
			}
			results = append(results, syncWatch(ctx, w))
		}
		if name != "" && len(results) == 0 {
			return nil, fmt.Errorf("%w: unknown watch %q", queue.ErrValidation, name)
		}
		return results, nil
	}

	scheduler := cronPkg.NewScheduler(cronPkg.Config{Logger: logger})
	for _, w := range cfg.Watches {
		watch := w
		expr := watch.Cron
		if expr == "" {
			expr = cfg.DefaultCron
		}
		if err := scheduler.Add("sync:"+watch.Name, expr, func(ctx context.Context) {
			syncWatch(ctx, watch)
		}); err != nil {
			return err
		}
	}
	if age := cfg.RetentionFailedAge(); age > 0 {
		if err := scheduler.Add("retention", cfg.RetentionCron, func(ctx context.Context) {
			result, err := q.CleanupFailed(ctx, age)
			if err != nil {
				logger.Error("retention sweep failed", "error", err)
				return
			}
			logger.Info("retention sweep finished",
				"removed", result.Removed,
				"remaining", result.TotalAfter,
			)
		}); err != nil {
			return err
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				reloaded, err := config.Load()
				if err != nil {
					logger.Error("config reload failed", "error", err)
					continue
				}
				// Structural changes (workers, watches, bind addr) need a
				// restart; log the new fingerprint so the drift is visible.
				logger.Info("config changed on disk",
					"fingerprint", reloaded.Fingerprint(),
					"active_fingerprint", cfg.Fingerprint(),
				)
			}
		}()
	}

	gw, err := gateway.New(gateway.Config{
		Queue:              q,
		Engine:             engine,
		Tracker:            tracker,
		Sync:               syncFn,
		RetentionFailedAge: cfg.RetentionFailedAge(),
		AuthToken:          os.Getenv("LEXFLOW_AUTH_TOKEN"),
		ConfigFingerprint:  cfg.Fingerprint(),
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", "drain_timeout", cfg.DrainTimeout())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown failed", "error", err)
	}
	engine.Drain(cfg.DrainTimeout())
	logger.Info("lexflowd stopped")
	return nil
}

// loadDotEnv loads KEY=VALUE pairs from a local .env file into the process
// environment. Existing variables are not overridden.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}
