// Package scheduler runs the background jobs of the POS core on cron specs.
package scheduler

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/config"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/logger"
)

const jobTimeout = 2 * time.Minute

// Jobs is implemented by the service layer.
type Jobs interface {
	// ExpireStalePushes fails mobile pushes that never got a callback and
	// reports how many were expired.
	ExpireStalePushes(ctx context.Context) (int, error)
	// SendDailySummary reports the trading day containing day.
	SendDailySummary(ctx context.Context, day time.Time) error
}

type Scheduler struct {
	cron   *cron.Cron
	jobs   Jobs
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg config.SchedulerConfig, jobs Jobs, l *zap.Logger) (*Scheduler, error) {
	loc := time.UTC
	if cfg.DailySummaryTZName != "" {
		loaded, err := time.LoadLocation(cfg.DailySummaryTZName)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.DailySummaryTZName, err)
		}
		loc = loaded
	}

	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		jobs:   jobs,
		loc:    loc,
		logger: logger.OrNop(l).Named("scheduler"),
		now:    time.Now,
	}
	if cfg.ExpirySweepSpec != "" {
		if _, err := s.cron.AddFunc(cfg.ExpirySweepSpec, s.runExpirySweep); err != nil {
			return nil, fmt.Errorf("schedule mpesa expiry sweep %q: %w", cfg.ExpirySweepSpec, err)
		}
	}
	if cfg.DailySummarySpec != "" {
		if _, err := s.cron.AddFunc(cfg.DailySummarySpec, s.runDailySummary); err != nil {
			return nil, fmt.Errorf("schedule daily summary %q: %w", cfg.DailySummarySpec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runExpirySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.jobs.ExpireStalePushes(ctx)
	if err != nil {
		s.logger.Error("mpesa expiry sweep failed", zap.Int("expired", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("expired stale mpesa pushes", zap.Int("expired", n))
	}
}

func (s *Scheduler) runDailySummary() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	day := s.now().In(s.loc)
	if err := s.jobs.SendDailySummary(ctx, day); err != nil {
		s.logger.Error("daily summary failed", zap.String("day", day.Format("2006-01-02")), zap.Error(err))
	}
}
