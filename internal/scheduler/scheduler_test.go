package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/config"
)

type fakeJobs struct {
	expired    int
	expireErr  error
	sweeps     int
	summaryDay time.Time
}

func (f *fakeJobs) ExpireStalePushes(_ context.Context) (int, error) {
	f.sweeps++
	return f.expired, f.expireErr
}

func (f *fakeJobs) SendDailySummary(_ context.Context, day time.Time) error {
	f.summaryDay = day
	return nil
}

func TestNewRegistersJobs(t *testing.T) {
	s, err := New(config.SchedulerConfig{
		ExpirySweepSpec:    "@every 15s",
		DailySummarySpec:   "0 21 * * *",
		DailySummaryTZName: "Africa/Nairobi",
	}, &fakeJobs{}, nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if got := len(s.cron.Entries()); got != 2 {
		t.Fatalf("expected 2 jobs, got %d", got)
	}
	if s.loc.String() != "Africa/Nairobi" {
		t.Fatalf("expected Africa/Nairobi, got %s", s.loc)
	}
}

func TestNewRejectsBadSpecs(t *testing.T) {
	if _, err := New(config.SchedulerConfig{ExpirySweepSpec: "every now and then"}, &fakeJobs{}, nil); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
	if _, err := New(config.SchedulerConfig{DailySummaryTZName: "Mars/Olympus"}, &fakeJobs{}, nil); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestJobsRunAgainstService(t *testing.T) {
	jobs := &fakeJobs{expired: 2}
	s, err := New(config.SchedulerConfig{DailySummaryTZName: "Africa/Nairobi"}, jobs, nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 5, 4, 20, 30, 0, 0, time.UTC) }

	s.runExpirySweep()
	jobs.expireErr = errors.New("db down")
	s.runExpirySweep()
	if jobs.sweeps != 2 {
		t.Fatalf("expected 2 sweeps, got %d", jobs.sweeps)
	}

	s.runDailySummary()
	if got := jobs.summaryDay.Format("2006-01-02"); got != "2026-05-04" {
		t.Fatalf("expected local day 2026-05-04, got %s", got)
	}
	if jobs.summaryDay.Hour() != 23 {
		t.Fatalf("expected Nairobi wall clock 23h, got %d", jobs.summaryDay.Hour())
	}
}

func TestStartStop(t *testing.T) {
	s, err := New(config.SchedulerConfig{ExpirySweepSpec: "@every 1h"}, &fakeJobs{}, nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
