// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// Job is the callback invoked when the schedule fires.
type Job func(ctx context.Context) error

// Scheduler runs a job on a cron schedule. A firing that overlaps a run
// still in progress is skipped.
type Scheduler struct {
	schedule string
	name     string
	job      Job
	cron     *cron.Cron
	running  atomic.Bool
	cancel   context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler that runs job on schedule.
func New(name, schedule string, job Job) *Scheduler {
	return &Scheduler{
		schedule: schedule,
		name:     name,
		job:      job,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the job and starts the cron ticker. Runs receive a context
// derived from ctx that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	_, err := s.cron.AddFunc(s.schedule, func() { s.fire(runCtx) })
	if err != nil {
		cancel()
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	slog.Info("scheduled job", "name", s.name, "schedule", s.schedule)

	s.cron.Start()
	return nil
}

func (s *Scheduler) fire(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		slog.Warn("cron job still running, skipping", "name", s.name)
		return
	}
	defer s.running.Store(false)

	slog.Info("cron firing job", "name", s.name)
	if err := s.job(ctx); err != nil {
		slog.Error("cron job failed", "name", s.name, "error", err)
	}
}

// Stop stops the cron ticker and waits for a running job to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}
