package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"callsync/internal/audit"
	"callsync/internal/reconcile"

	"github.com/go-co-op/gocron/v2"
)

// Runner runs one reconciliation pass.
type Runner interface {
	Run(ctx context.Context, trigger audit.Trigger) reconcile.Summary
}

// Purger drops expired handled keys (SQL cursor backend only).
type Purger interface {
	PurgeHandled(ctx context.Context) (int64, error)
}

type Options struct {
	Interval   time.Duration
	RunOnStart bool

	Purger        Purger
	PurgeInterval time.Duration
}

// Scheduler triggers passes on a fixed interval. The job runs in singleton
// mode, and the engine drops overlapping passes anyway.
type Scheduler struct {
	s      gocron.Scheduler
	runner Runner
	opts   Options
	log    *slog.Logger
}

func New(runner Runner, opts Options, log *slog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = 6 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{s: s, runner: runner, opts: opts, log: log}, nil
}

// Start registers the jobs and starts the scheduler. Passes run with ctx, so
// cancelling it lets an in-flight pass stop between calls.
func (s *Scheduler) Start(ctx context.Context) error {
	jobOpts := []gocron.JobOption{
		gocron.WithName("sync_calls"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if s.opts.RunOnStart {
		jobOpts = append(jobOpts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err := s.s.NewJob(
		gocron.DurationJob(s.opts.Interval),
		gocron.NewTask(func() {
			sum := s.runner.Run(ctx, audit.TriggerSchedule)
			s.log.Info("scheduled pass done", "pass_id", sum.PassID, "outcome", sum.Outcome, "synced", sum.Synced, "errors", len(sum.Errors))
		}),
		jobOpts...,
	)
	if err != nil {
		return fmt.Errorf("schedule sync job: %w", err)
	}

	if s.opts.Purger != nil {
		_, err := s.s.NewJob(
			gocron.DurationJob(s.opts.PurgeInterval),
			gocron.NewTask(func() {
				n, err := s.opts.Purger.PurgeHandled(ctx)
				if err != nil {
					s.log.Warn("purge handled keys", "error", err)
					return
				}
				s.log.Debug("purged handled keys", "rows", n)
			}),
			gocron.WithName("purge_handled"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("schedule purge job: %w", err)
		}
	}

	s.s.Start()
	s.log.Info("scheduler started", "interval", s.opts.Interval.String(), "run_on_start", s.opts.RunOnStart)
	return nil
}

// Shutdown stops scheduling and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.s.Shutdown()
}
