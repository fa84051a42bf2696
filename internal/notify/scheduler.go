package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

const (
	DefaultConfirmationSpec = "0 9 * * *"
	DefaultReminderSpec     = "@every 5m"
	defaultJobTimeout       = 10 * time.Minute
)

// SchedulerConfig sets when the jobs fire.
type SchedulerConfig struct {
	Location         *time.Location
	ConfirmationSpec string
	ReminderSpec     string
	JobTimeout       time.Duration
	Now              func() time.Time
}

// Scheduler owns a cron instance running the confirmation and reminder jobs.
// A job still running when its next tick arrives is skipped.
type Scheduler struct {
	cron    *cron.Cron
	jobs    *Jobs
	logger  *logging.Logger
	now     func() time.Time
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(jobs *Jobs, cfg SchedulerConfig, logger *logging.Logger) (*Scheduler, error) {
	if jobs == nil {
		return nil, fmt.Errorf("notify: jobs required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ConfirmationSpec == "" {
		cfg.ConfirmationSpec = DefaultConfirmationSpec
	}
	if cfg.ReminderSpec == "" {
		cfg.ReminderSpec = DefaultReminderSpec
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	cl := cronLogger{logger}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, jobs: jobs, logger: logger, now: cfg.Now, timeout: cfg.JobTimeout, ctx: ctx, cancel: cancel}

	if _, err := c.AddFunc(cfg.ConfirmationSpec, s.run(TypeConfirmation, jobs.RunConfirmations)); err != nil {
		cancel()
		return nil, fmt.Errorf("notify: confirmation schedule %q: %w", cfg.ConfirmationSpec, err)
	}
	if _, err := c.AddFunc(cfg.ReminderSpec, s.run(TypeReminder1h, jobs.RunReminders)); err != nil {
		cancel()
		return nil, fmt.Errorf("notify: reminder schedule %q: %w", cfg.ReminderSpec, err)
	}
	return s, nil
}

func (s *Scheduler) run(name string, job func(context.Context, time.Time) (Report, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		if _, err := job(ctx, s.now()); err != nil {
			s.logger.Error("notify: scheduled job failed", "job", name, "error", err)
		}
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("notify: scheduler started", "entries", len(s.cron.Entries()))
}

// Stop halts new runs and waits for running jobs until ctx expires, then
// cancels them.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("notify: scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// cronLogger adapts the app logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
