// Package cron implements the CronJob scheduler: schedule-expression
// parsing via robfig/cron, monotonic run counting, one-shot job deletion
// after a terminal run, and an atomic JSON-array job store.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Handler runs a single CronJob's task. The returned string is recorded as
// LastRunResult.
type Handler func(ctx context.Context, job pawn.CronJob) (string, error)

// Scheduler owns a set of CronJobs, their parsed schedules, and periodic
// execution against a Handler.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*entry
	storePath string
	handler  Handler
	log      *slog.Logger
	now      func() time.Time

	tickInterval time.Duration
	stop         chan struct{}
	wg           sync.WaitGroup
}

type entry struct {
	job      pawn.CronJob
	schedule cron.Schedule
	nextRun  time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default slog.Logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides how often the Scheduler checks for due jobs.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// New creates a Scheduler. storePath is where the job list is persisted as
// a JSON array; an empty storePath disables persistence.
func New(storePath string, handler Handler, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:         make(map[string]*entry),
		storePath:    storePath,
		handler:      handler,
		log:          slog.Default(),
		now:          time.Now,
		tickInterval: time.Second,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads storePath (if set and it exists) and schedules every job
// found in it.
func (s *Scheduler) Load() error {
	if s.storePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cron: reading store: %w", err)
	}
	var jobs []pawn.CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("cron: decoding store: %w", err)
	}
	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			s.log.Warn("cron: skipping unschedulable stored job", "job", job.Name, "error", err)
		}
	}
	return nil
}

// Add parses job.Schedule and registers it, overwriting any job with the
// same ID, then persists the store.
func (s *Scheduler) Add(job pawn.CronJob) error {
	sched, err := parser.Parse(job.Schedule)
	if err != nil {
		return fmt.Errorf("cron: invalid schedule %q: %w", job.Schedule, err)
	}

	s.mu.Lock()
	s.jobs[job.ID] = &entry{job: job, schedule: sched, nextRun: sched.Next(s.now())}
	jobs := s.snapshotLocked()
	s.mu.Unlock()

	return s.persist(jobs)
}

// Remove deletes job by id and persists the store.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	delete(s.jobs, id)
	jobs := s.snapshotLocked()
	s.mu.Unlock()
	return s.persist(jobs)
}

// Jobs returns a snapshot of all scheduled jobs.
func (s *Scheduler) Jobs() []pawn.CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() []pawn.CronJob {
	out := make([]pawn.CronJob, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.job)
	}
	return out
}

func (s *Scheduler) persist(jobs []pawn.CronJob) error {
	if s.storePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("cron: encoding store: %w", err)
	}
	tmp := s.storePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cron: writing store: %w", err)
	}
	return os.Rename(tmp, s.storePath)
}

// Start runs the check loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop halts the check loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// runDue executes every job whose nextRun has arrived. A job still running
// from a prior tick is skipped for this tick (robfig/cron's own
// SkipIfStillRunning semantics), not queued.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.jobs {
		if !e.job.Enabled {
			continue
		}
		if !e.nextRun.IsZero() && !e.nextRun.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.runOne(ctx, e)
	}
}

func (s *Scheduler) runOne(ctx context.Context, e *entry) {
	result, err := "", error(nil)
	if s.handler != nil {
		result, err = s.handler(ctx, e.job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[e.job.ID]
	if !ok {
		return // removed while running
	}
	current.job.RunCount++
	current.job.LastRunAt = s.now()
	if err != nil {
		current.job.LastRunResult = "error: " + err.Error()
		s.log.Error("cron: job failed", "job", current.job.Name, "error", err)
	} else {
		current.job.LastRunResult = result
	}

	if current.job.OneShot {
		delete(s.jobs, current.job.ID)
	} else {
		current.nextRun = current.schedule.Next(s.now())
	}

	_ = s.persist(s.snapshotLocked())
}
