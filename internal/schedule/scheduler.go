// Package schedule runs jobs on cron expressions, fixed intervals, and
// one-shot timestamps.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hearthline/hearth-core/internal/infrastructure/logging"
)

// ErrPastTime is returned when a one-shot job is registered for a
// timestamp that has already passed.
var ErrPastTime = errors.New("schedule: time is in the past")

// Scheduler dispatches registered jobs. Cron and interval jobs run on
// the embedded cron runner; one-shot jobs run on plain timers. Panics
// in jobs are recovered and logged so a bad job cannot kill the runner.
type Scheduler struct {
	cron   *cron.Cron
	logger *logging.Logger

	mu      sync.Mutex
	timers  []*time.Timer
	started bool
}

// New creates a Scheduler. All cron expressions are evaluated in loc.
func New(loc *time.Location, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("component", "schedule")
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		logger: logger,
	}
}

// RegisterCron schedules job on a standard 5-field cron expression.
func (s *Scheduler) RegisterCron(spec string, job func()) error {
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("schedule: invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// RegisterInterval schedules job to run every d, first firing one
// interval after Start.
func (s *Scheduler) RegisterInterval(d time.Duration, job func()) error {
	if d <= 0 {
		return fmt.Errorf("schedule: interval must be positive, got %v", d)
	}
	s.cron.Schedule(cron.Every(d), cron.FuncJob(job))
	return nil
}

// RegisterOnce schedules job to run once at the given time.
func (s *Scheduler) RegisterOnce(at time.Time, job func()) error {
	delay := time.Until(at)
	if delay <= 0 {
		return fmt.Errorf("%w: %s", ErrPastTime, at.Format(time.RFC3339))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers = append(s.timers, time.AfterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("one-shot job panicked", "panic", r)
			}
		}()
		job()
	}))
	return nil
}

// Start begins dispatching jobs. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", "cron_entries", len(s.cron.Entries()))
}

// Stop halts dispatch and waits for running cron jobs to finish, up to
// the context deadline. Pending one-shot timers are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, timer := range s.timers {
		timer.Stop()
	}
	s.timers = nil
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("schedule: jobs still running at shutdown: %w", ctx.Err())
	}
}

// cronLogger adapts the structured logger to the cron runner's
// logging interface. Only errors are surfaced; the runner's info
// chatter is noise at our log volume.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(_ string, _ ...any) {}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"error", err}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
