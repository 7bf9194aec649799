package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/logger"
	"github.com/i474232898/meteo-histo/internal/pipeline"
	"github.com/i474232898/meteo-histo/internal/store"
)

// Builder runs the download-assemble-reconcile flow for one station.
type Builder interface {
	Build(ctx context.Context, station climate.StationID) (pipeline.BuildReport, error)
}

// Locker hands out the per-station lock shared with the CLI.
type Locker interface {
	AcquireStationLock(station climate.StationID) (store.StationLock, error)
}

// Invalidator drops stale archives from the read cache.
type Invalidator interface {
	Invalidate(station climate.StationID)
}

// Scheduler periodically refreshes the archives of configured stations.
type Scheduler struct {
	scheduler *gocron.Scheduler
	builder   Builder
	locker    Locker
	cache     Invalidator
	stations  []climate.StationID
	interval  time.Duration
	timeout   time.Duration
	log       logrus.FieldLogger
}

// New creates a new Scheduler. cache may be nil.
func New(stations []climate.StationID, interval, timeout time.Duration, builder Builder, locker Locker, cache Invalidator, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		builder:   builder,
		locker:    locker,
		cache:     cache,
		stations:  stations,
		interval:  interval,
		timeout:   timeout,
		log:       log.WithField(logger.FieldComponent, "scheduler"),
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// A run still in progress when the next one is due makes that one skip.
func (s *Scheduler) Start() error {
	if len(s.stations) == 0 {
		s.log.Info("no stations configured; nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	_, err := s.scheduler.Every(interval).SingletonMode().Do(func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce refreshes every station in turn and returns how many failed.
// Stations run sequentially so the upstream sees one order at a time.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.log.Infof("refreshing %d stations", len(s.stations))

	failed := 0
	for _, station := range s.stations {
		if ctx.Err() != nil {
			s.log.Warnf("refresh interrupted: %v", ctx.Err())
			return failed + 1
		}
		if err := s.refresh(ctx, station); err != nil {
			failed++
			s.log.WithField(logger.FieldStation, station).Errorf("refresh failed: %v", err)
		}
	}

	s.log.Infof("refresh completed: %d of %d stations failed", failed, len(s.stations))
	return failed
}

func (s *Scheduler) refresh(ctx context.Context, station climate.StationID) error {
	lock, err := s.locker.AcquireStationLock(station)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.log.WithField(logger.FieldStation, station).Warnf("release lock: %v", err)
		}
	}()

	report, err := s.builder.Build(ctx, station)
	if s.cache != nil {
		s.cache.Invalidate(station)
	}
	if err != nil {
		return err
	}
	if !report.Reconcile.Clean() {
		s.log.WithField(logger.FieldStation, station).Warnf("archive left with %d missing dates", len(report.Reconcile.Report.Missing))
	}
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
