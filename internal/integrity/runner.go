package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldbook/fieldbook-sync/pkg/logger"
	"github.com/fieldbook/fieldbook-sync/pkg/metrics"
)

const defaultInterval = 24 * time.Hour

// RunnerParams configure the scheduled integrity runner.
type RunnerParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.IntegrityJobMetrics
	Interval time.Duration
}

// Runner executes the registered integrity jobs on a fixed cadence, one
// replica at a time.
type Runner struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.IntegrityJobMetrics
	interval time.Duration
}

// NewRunner builds an integrity runner.
func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Runner{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run starts the loop until the context is canceled. Jobs run immediately
// on start and then once per interval.
func (r *Runner) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.runCycle(ctx); err != nil {
		r.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logg.Info(ctx, "integrity runner context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := r.runCycle(ctx); err != nil {
				r.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

func (r *Runner) runCycle(ctx context.Context) error {
	locked, err := r.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		r.logg.Info(ctx, "another integrity instance is running; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := r.lock.Release(ctx); relErr != nil {
			r.logg.Error(ctx, "failed to release integrity lock", relErr)
		}
	}()

	r.logg.Info(ctx, "integrity run starting")
	for _, job := range r.registry.Jobs() {
		r.runJob(ctx, job)
	}
	r.logg.Info(ctx, "integrity run complete")
	return nil
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	jobCtx := r.logg.WithField(ctx, "job", job.Name())
	r.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	r.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = r.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		r.logg.Error(jobCtx, "job failed", err)
		r.metrics.IncFailure(job.Name())
		return
	}
	r.logg.Info(jobCtx, "job completed")
	r.metrics.IncSuccess(job.Name())
}
