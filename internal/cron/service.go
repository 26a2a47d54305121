package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Interval is the tick between cycles; each job's own cadence is set
	// when it is registered.
	Interval time.Duration
	Now      func() time.Time
}

// Service ticks every interval and, while holding the cluster lock, runs the
// jobs that are due.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	case params.Registry == nil:
		return nil, errors.New("job registry required")
	}
	s := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
		now:      params.Now,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run starts with a cycle and keeps ticking until ctx ends. Cycle errors are
// logged; only cancellation stops the loop.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs every due job once. A failing job is logged and counted and
// does not stop the jobs after it.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.locked(ctx, func() error {
		return s.runAll(ctx, s.registry.Due(s.now()))
	})
}

// RunJobs runs the named jobs now, ignoring their cadence. It reports the
// first job failure after all of them have run.
func (s *Service) RunJobs(ctx context.Context, names ...string) error {
	jobs := make([]Job, 0, len(names))
	for _, name := range names {
		job, ok := s.registry.Lookup(name)
		if !ok {
			return fmt.Errorf("unknown job %q", name)
		}
		jobs = append(jobs, job)
	}
	return s.locked(ctx, func() error {
		return s.runAll(ctx, jobs)
	})
}

func (s *Service) locked(ctx context.Context, fn func() error) error {
	ok, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !ok {
		s.metrics.IncSkipped()
		s.logg.Info(ctx, "cron lock held elsewhere, skipping cycle")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "cron lock release failed", err)
		}
	}()
	return fn()
}

func (s *Service) runAll(ctx context.Context, jobs []Job) error {
	var first error
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.runJob(ctx, job); err != nil && first == nil {
			first = fmt.Errorf("job %s: %w", job.Name(), err)
		}
	}
	return first
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	ctx = s.logg.WithField(ctx, "job", job.Name())
	ranAt, start := s.now(), time.Now()
	err := job.Run(ctx)
	took := time.Since(start)

	s.registry.MarkRan(job.Name(), ranAt)
	s.metrics.ObserveRun(job.Name(), took, err)
	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron job failed", err)
		return err
	}
	s.logg.Info(ctx, "cron job finished")
	return nil
}
