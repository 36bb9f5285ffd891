// Package scheduler runs the periodic housekeeping jobs: pulling new data,
// enforcing retention and compacting storage.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/service"
)

// Fetcher pulls data for a time window; *api.SeriesFetcher implements it.
type Fetcher interface {
	FetchAll(ctx context.Context, start, end time.Time) error
}

// Retainer lists series and drops their old values; *service.Service
// implements it.
type Retainer interface {
	GetIDs(ctx context.Context) ([]string, error)
	RemoveValues(ctx context.Context, id string, from, to time.Time) (service.Change, error)
}

// Maintainer compacts a storage backend; *database.BadgerRepo implements it.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// Config holds the cron schedules. A job with an empty schedule, or without
// its collaborator, is not scheduled.
type Config struct {
	FetchSchedule string
	// FetchWindow is how far back each fetch reaches.
	FetchWindow time.Duration

	RetentionSchedule string
	// Retention is the age after which values are removed; zero keeps all.
	Retention time.Duration

	MaintenanceSchedule string
	JobTimeout          time.Duration
}

// DefaultConfig fetches every 5 minutes and checks retention hourly.
func DefaultConfig() Config {
	return Config{
		FetchSchedule:       "*/5 * * * *",
		FetchWindow:         5 * time.Minute,
		RetentionSchedule:   "0 * * * *",
		MaintenanceSchedule: "30 3 * * *",
		JobTimeout:          2 * time.Minute,
	}
}

// Jobs are the collaborators of the scheduled jobs; any may be nil.
type Jobs struct {
	Fetcher    Fetcher
	Retainer   Retainer
	Maintainer Maintainer
}

type Scheduler struct {
	ctx    context.Context
	cfg    Config
	jobs   Jobs
	logger *logrus.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewScheduler(ctx context.Context, cfg Config, jobs Jobs, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	cronLog := cron.PrintfLogger(logger)
	return &Scheduler{
		ctx:    ctx,
		cfg:    cfg,
		jobs:   jobs,
		logger: logger,
		cron:   cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		now:    time.Now,
	}
}

// Start the scheduler
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		schedule string
		enabled  bool
		run      func()
	}{
		{"fetch", s.cfg.FetchSchedule, s.jobs.Fetcher != nil, s.collectData},
		{"retention", s.cfg.RetentionSchedule, s.jobs.Retainer != nil && s.cfg.Retention > 0, s.enforceRetention},
		{"maintenance", s.cfg.MaintenanceSchedule, s.jobs.Maintainer != nil, s.maintain},
	}

	for _, job := range jobs {
		if !job.enabled || job.schedule == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.schedule, job.run); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", job.name, job.schedule, err)
		}
		s.logger.WithFields(logrus.Fields{"job": job.name, "schedule": job.schedule}).Info("job scheduled")
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.cfg.JobTimeout)
}

// collectData fetches data from the API and stores it through the service
func (s *Scheduler) collectData() {
	ctx, cancel := s.jobContext()
	defer cancel()

	endTime := s.now()
	startTime := endTime.Add(-s.cfg.FetchWindow)

	if err := s.jobs.Fetcher.FetchAll(ctx, startTime, endTime); err != nil {
		s.logger.WithError(err).Error("Failed to fetch data")
	}
}

// enforceRetention removes every value older than the retention period.
func (s *Scheduler) enforceRetention() {
	ctx, cancel := s.jobContext()
	defer cancel()

	// the zero time precedes every storable point
	var floor time.Time
	cutoff := s.now().Add(-s.cfg.Retention)
	if !floor.Before(cutoff) {
		return
	}

	ids, err := s.jobs.Retainer.GetIDs(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list series for retention")
		return
	}
	for _, id := range ids {
		_, err := s.jobs.Retainer.RemoveValues(ctx, id, floor, cutoff)
		switch {
		case errors.Is(err, models.ErrNotFound):
			// removed since listing
		case err != nil:
			s.logger.WithError(err).WithField("id", id).Error("Failed to enforce retention")
		}
	}
	s.logger.WithFields(logrus.Fields{"series": len(ids), "cutoff": cutoff}).Debug("retention enforced")
}

func (s *Scheduler) maintain() {
	ctx, cancel := s.jobContext()
	defer cancel()

	if err := s.jobs.Maintainer.Maintain(ctx); err != nil {
		s.logger.WithError(err).Error("Storage maintenance failed")
	}
}

// Stop the scheduler and wait for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
