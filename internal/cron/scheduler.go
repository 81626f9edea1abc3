// Package cron provides a periodic scheduler that fires due jobs: ingestion
// sync cycles for each watched identity and the retention sweep.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Job is one scheduled unit of work.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context)

	nextRun time.Time
}

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler ticks at a fixed interval and fires every job whose schedule has
// come due since the last tick.
type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration

	mu   sync.Mutex
	jobs []*Job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:   logger,
		interval: interval,
	}
}

// Add registers a job. The expression is validated up front; the first run is
// the next time it matches.
func (s *Scheduler) Add(name, expr string, run func(ctx context.Context)) error {
	next, err := NextRunTime(expr, time.Now())
	if err != nil {
		return fmt.Errorf("cron schedule %q: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &Job{Name: name, Expr: expr, Run: run, nextRun: next})
	return nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval, "jobs", len(s.jobs))
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every job whose next run time has passed.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if !job.nextRun.After(now) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.fire(ctx, job, now)
	}
}

// fire runs the job and advances its next run time.
func (s *Scheduler) fire(ctx context.Context, job *Job, now time.Time) {
	nextRun, err := NextRunTime(job.Expr, now)
	if err != nil {
		s.logger.Error("cron: failed to compute next run time",
			"job", job.Name,
			"cron_expr", job.Expr,
			"error", err,
		)
		return
	}
	s.mu.Lock()
	job.nextRun = nextRun
	s.mu.Unlock()

	s.logger.Info("cron: job fired", "job", job.Name, "next_run_at", nextRun)
	job.Run(ctx)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
