// Package scheduler runs the server's periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Job is one run of a periodic task. Its context is cancelled on Shutdown.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron   gocron.Scheduler
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(log *zap.Logger, clock clockwork.Clock) (*Scheduler, error) {
	var opts []gocron.SchedulerOption
	if clock != nil {
		opts = append(opts, gocron.WithClock(clock))
	}
	cron, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("new scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: cron, log: log.Named("scheduler"), ctx: ctx, cancel: cancel}, nil
}

// Every registers job to run every interval. A run that is still going when
// the next is due delays it rather than overlapping.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			started := time.Now()
			if err := job(s.ctx); err != nil {
				s.log.Warn("job failed", zap.String("job", name), zap.Error(err))
				return
			}
			s.log.Debug("job done", zap.String("job", name), zap.Duration("took", time.Since(started)))
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.log.Info("job scheduled", zap.String("job", name), zap.Duration("every", interval))
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Shutdown cancels running jobs and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.cron.Shutdown()
}
