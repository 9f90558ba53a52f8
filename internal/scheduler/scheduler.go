// Package scheduler runs kabulog's background jobs on cron schedules in
// Tokyo time.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job represents a scheduled job.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// New creates a scheduler whose six-field schedules (seconds first) are
// evaluated in loc. Each run is bounded by timeout when it is positive.
func New(logger *slog.Logger, loc *time.Location, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		logger:  logger.With("component", "scheduler"),
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// AddJob registers job under schedule, e.g. "0 0 18 * * *" or "@every 15m".
// An empty schedule skips the job.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if schedule == "" {
		s.logger.Info("job disabled", "job", job.Name())
		return nil
	}
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(job); err != nil {
			s.logger.Error("job failed", "job", job.Name(), "err", err)
		}
	})
	if err != nil {
		return err
	}
	s.logger.Info("job registered", "job", job.Name(), "schedule", schedule)
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	s.logger.Debug("running job", "job", job.Name())
	err := job.Run(ctx)
	if err == nil {
		s.logger.Debug("job completed", "job", job.Name(), "duration", time.Since(start))
	}
	return err
}
