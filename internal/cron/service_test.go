package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
)

type fakeLock struct {
	held     bool
	err      error
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T, lock Lock, reg prometheus.Registerer, c *clock, jobs map[Job]time.Duration, order ...Job) *Service {
	t.Helper()
	registry := NewRegistry()
	for _, job := range order {
		registry.Register(job, jobs[job])
	}
	params := ServiceParams{
		Logger:   logger.Nop(),
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	}
	if c != nil {
		params.Now = c.Now
	}
	service, err := NewService(params)
	require.NoError(t, err)
	return service
}

func runResults(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	results := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "credits_cron_job_runs_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "result" {
					results[label.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return results
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{Registry: NewRegistry(), Lock: &fakeLock{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.Nop(), Registry: NewRegistry()})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.Nop(), Lock: &fakeLock{}})
	assert.Error(t, err)
}

func TestRunOnceRunsAllJobsAndReportsFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	ok := &testJob{name: "credit-expiry"}
	failing := &testJob{name: "reconciliation", err: errors.New("boom")}
	lock := &fakeLock{}
	service := newTestService(t, lock, reg, nil, nil, failing, ok)

	err := service.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job reconciliation")
	assert.Equal(t, 1, ok.runs, "jobs after a failure still run")
	assert.Equal(t, 1, failing.runs)
	assert.Equal(t, 1, lock.releases)
	assert.False(t, lock.held)

	results := runResults(t, reg)
	assert.Equal(t, float64(1), results[metrics.JobFailed])
	assert.Equal(t, float64(1), results[metrics.JobSucceeded])
}

func TestRunOnceRespectsJobCadence(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	expiry := &testJob{name: "credit-expiry"}
	retention := &testJob{name: "outbox-retention"}
	service := newTestService(t, &fakeLock{}, nil, c,
		map[Job]time.Duration{retention: 24 * time.Hour}, expiry, retention)

	require.NoError(t, service.RunOnce(context.Background()))
	c.now = c.now.Add(5 * time.Minute)
	require.NoError(t, service.RunOnce(context.Background()))
	assert.Equal(t, 2, expiry.runs)
	assert.Equal(t, 1, retention.runs)

	c.now = c.now.Add(24 * time.Hour)
	require.NoError(t, service.RunOnce(context.Background()))
	assert.Equal(t, 2, retention.runs)
}

func TestRunJobsIgnoresCadence(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	retention := &testJob{name: "outbox-retention"}
	service := newTestService(t, &fakeLock{}, nil, c,
		map[Job]time.Duration{retention: 24 * time.Hour}, retention)

	require.NoError(t, service.RunOnce(context.Background()))
	require.NoError(t, service.RunJobs(context.Background(), "outbox-retention"))
	assert.Equal(t, 2, retention.runs)

	assert.ErrorContains(t, service.RunJobs(context.Background(), "nope"), `unknown job "nope"`)
	assert.Equal(t, 2, retention.runs)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := &testJob{name: "credit-expiry"}
	service := newTestService(t, &fakeLock{held: true}, reg, nil, nil, job)

	require.NoError(t, service.RunOnce(context.Background()))
	assert.Zero(t, job.runs)

	families, err := reg.Gather()
	require.NoError(t, err)
	var skipped float64
	for _, family := range families {
		if family.GetName() == "credits_cron_cycles_skipped_total" {
			skipped = family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), skipped)
}

func TestRunOnceSurfacesLockError(t *testing.T) {
	job := &testJob{name: "credit-expiry"}
	service := newTestService(t, &fakeLock{err: errors.New("redis down")}, nil, nil, nil, job)

	assert.ErrorContains(t, service.RunOnce(context.Background()), "lock acquire")
	assert.Zero(t, job.runs)
}

func TestRunOnceStopsOnCanceledContext(t *testing.T) {
	job := &testJob{name: "credit-expiry"}
	service := newTestService(t, &fakeLock{}, nil, nil, nil, job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, service.RunOnce(ctx), context.Canceled)
	assert.Zero(t, job.runs)
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "credit-expiry"}
	lock := &fakeLock{}
	service := newTestService(t, lock, nil, nil, nil, job)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, service.Run(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, job.runs, "first cycle runs immediately")
}
