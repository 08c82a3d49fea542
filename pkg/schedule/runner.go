package schedule

import (
	"context"
	"log/slog"
	"time"
)

// Job is the unit of work driven by a Runner. A returned error is logged and
// the schedule continues; it never stops the runner.
type Job func(ctx context.Context) error

// Runner executes a single job on a schedule. It holds no state beyond the
// next fire time, so overlapping deployments at worst duplicate a run — the
// jobs it drives are expected to be idempotent.
type Runner struct {
	name     string
	schedule Schedule
	job      Job
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger for the runner.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a runner for the named job. Panics on nil job or
// schedule to fail fast during initialization.
func NewRunner(name string, sched Schedule, job Job, opts ...RunnerOption) *Runner {
	if sched == nil {
		panic("schedule: Schedule is required")
	}
	if job == nil {
		panic("schedule: Job is required")
	}

	r := &Runner{
		name:     name,
		schedule: sched,
		job:      job,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start blocks, firing the job at each scheduled time until the context is
// cancelled. Returns the context error on shutdown.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("periodic job registered",
		slog.String("job", r.name),
		slog.String("schedule", r.schedule.String()))

	timer := time.NewTimer(time.Until(r.schedule.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("periodic job runner shutting down", slog.String("job", r.name))
			return ctx.Err()
		case fired := <-timer.C:
			r.runOnce(ctx)
			timer.Reset(time.Until(r.schedule.Next(fired)))
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	started := time.Now()
	if err := r.job(ctx); err != nil {
		r.logger.Error("periodic job failed",
			slog.String("job", r.name),
			slog.String("error", err.Error()),
			slog.Duration("took", time.Since(started)))
		return
	}
	r.logger.Info("periodic job completed",
		slog.String("job", r.name),
		slog.Duration("took", time.Since(started)))
}
