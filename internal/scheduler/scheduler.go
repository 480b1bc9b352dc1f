// Package scheduler runs the periodic maintenance jobs: bonus expiry,
// subscription lapse and review reminders. Each job is idempotent, so a run
// that overlaps a manual marketctl invocation is harmless.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/festalink/backend/internal/config"
	"github.com/festalink/backend/internal/ledger"
	"github.com/festalink/backend/internal/metrics"
)

// Job is one periodic task. Jobs with a non-positive Interval are not scheduled.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type BonusSweeper interface {
	SweepExpiredBonuses(ctx context.Context) (ledger.SweepResult, error)
}

type SubscriptionSweeper interface {
	SweepLapsedSubscriptions(ctx context.Context) (int, error)
}

type ReminderSender interface {
	SendDueReminders(ctx context.Context, limit int) (int, error)
}

// Jobs builds the standard job set from cfg.
func Jobs(cfg config.JobsConfig, bonuses BonusSweeper, subs SubscriptionSweeper, reviews ReminderSender) []Job {
	return []Job{
		{
			Name:     "bonus_expiry",
			Interval: cfg.BonusSweepInterval,
			Run: func(ctx context.Context) error {
				res, err := bonuses.SweepExpiredBonuses(ctx)
				if err == nil && res.Failed > 0 {
					err = fmt.Errorf("%d of %d vendors failed", res.Failed, res.Vendors)
				}
				return err
			},
		},
		{
			Name:     "subscription_lapse",
			Interval: cfg.SubscriptionSweepInterval,
			Run: func(ctx context.Context) error {
				_, err := subs.SweepLapsedSubscriptions(ctx)
				return err
			},
		},
		{
			Name:     "review_reminders",
			Interval: cfg.ReviewReminderInterval,
			Run: func(ctx context.Context) error {
				_, err := reviews.SendDueReminders(ctx, cfg.ReviewReminderBatch)
				return err
			},
		},
	}
}

type Scheduler struct {
	sched  gocron.Scheduler
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers jobs on a fresh gocron scheduler. Nothing runs until Start.
func New(log *slog.Logger, jobs ...Job) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{sched: sched, log: log, ctx: ctx, cancel: cancel}
	for _, j := range jobs {
		if j.Interval <= 0 {
			log.Info("job disabled", "job", j.Name)
			continue
		}
		_, err := sched.NewJob(
			gocron.DurationJob(j.Interval),
			gocron.NewTask(s.run, j),
			gocron.WithName(j.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			_ = sched.Shutdown()
			return nil, fmt.Errorf("schedule %s: %w", j.Name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) run(j Job) {
	ctx, cancel := context.WithTimeout(s.ctx, j.Interval)
	defer cancel()
	started := time.Now()
	if err := j.Run(ctx); err != nil {
		metrics.JobRuns.WithLabelValues(j.Name, "error").Inc()
		s.log.Error("scheduled job failed", "job", j.Name, "error", err)
		return
	}
	metrics.JobRuns.WithLabelValues(j.Name, "ok").Inc()
	s.log.Debug("scheduled job finished", "job", j.Name, "took", time.Since(started))
}

// Len reports how many jobs are scheduled.
func (s *Scheduler) Len() int { return len(s.sched.Jobs()) }

func (s *Scheduler) Start() {
	s.sched.Start()
	s.log.Info("scheduler started", "jobs", s.Len())
}

// Shutdown cancels running jobs and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.sched.Shutdown()
}
