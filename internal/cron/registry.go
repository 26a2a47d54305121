package cron

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Job is one maintenance task run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type schedule struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

// Registry holds jobs in run order together with how often each may run.
// An every of zero means the job runs on every cycle. Last-run times live in
// this process only, so a replica that takes over the lock runs its
// throttled jobs on its first cycle.
type Registry struct {
	mu        sync.Mutex
	schedules []*schedule
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds job, or replaces the job of the same name in place and
// resets its last-run time. Nil jobs are ignored.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &schedule{job: job, every: max(every, 0)}
	if i := r.index(job.Name()); i >= 0 {
		r.schedules[i] = entry
		return
	}
	r.schedules = append(r.schedules, entry)
}

// Jobs returns the registered jobs in run order.
func (r *Registry) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]Job, 0, len(r.schedules))
	for _, s := range r.schedules {
		jobs = append(jobs, s.job)
	}
	return jobs
}

func (r *Registry) Lookup(name string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.index(name); i >= 0 {
		return r.schedules[i].job, true
	}
	return nil, false
}

// Due lists the jobs whose interval has elapsed at now.
func (r *Registry) Due(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Job
	for _, s := range r.schedules {
		if s.lastRun.IsZero() || !now.Before(s.lastRun.Add(s.every)) {
			due = append(due, s.job)
		}
	}
	return due
}

// MarkRan records a finished run, successful or not, so a failing job is
// retried on its next slot instead of every cycle.
func (r *Registry) MarkRan(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.index(name); i >= 0 {
		r.schedules[i].lastRun = at
	}
}

func (r *Registry) index(name string) int {
	return slices.IndexFunc(r.schedules, func(s *schedule) bool { return s.job.Name() == name })
}
