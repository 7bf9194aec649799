// Package pipeline orchestrates the download-and-reconcile flow for a station:
// planning ranges, downloading them under a request-level retry budget,
// assembling the archive and repairing it until its invariants hold.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/logger"
)

// Archives is the archive storage the pipeline works on.
type Archives interface {
	Assemble(station climate.StationID) (climate.StationArchive, error)
	Load(station climate.StationID) (climate.StationArchive, error)
	Save(archive climate.StationArchive) error
	MergeIncremental(station climate.StationID, chunkPaths []string) (climate.StationArchive, error)
	LoadGaps(station climate.StationID) ([]time.Time, error)
	SaveGaps(station climate.StationID, dates []time.Time) error
}

// StationRegistry is the local station metadata table.
type StationRegistry interface {
	Read() ([]climate.Station, error)
	Append(stations []climate.Station) (int, error)
}

// Geocoder resolves coordinates to a commune and postal code.
type Geocoder interface {
	Locate(ctx context.Context, lat, lon float64) (commune, postalCode string, err error)
}

// Options tunes retry budgets and reconciliation bounds.
type Options struct {
	HistoryStart    time.Time
	RequestBudget   int           // whole submit+fetch attempts per historical range
	RepairBudget    int           // whole submit+fetch attempts per repaired day
	RecheckInterval time.Duration // pause between reconciliation iterations
	MaxIterations   int           // reconciliation iterations before giving up
	MaxDateAttempts int           // completed repairs without the date before it is a permanent gap
	CircuitCooldown time.Duration // wait for an open circuit breaker to let a request through
	CircuitWaits    int           // cooldowns per request that do not spend the budget
}

func DefaultOptions() Options {
	return Options{
		HistoryStart:    climate.DefaultHistoryStart(),
		RequestBudget:   10,
		RepairBudget:    5,
		RecheckInterval: 3 * time.Second,
		MaxIterations:   10,
		MaxDateAttempts: 3,
		CircuitCooldown: 2 * time.Minute,
		CircuitWaits:    5,
	}
}

// Service orchestrates the upstream client and the archive store.
type Service struct {
	downloader climate.Downloader
	archives   Archives
	stations   climate.StationSource
	registry   StationRegistry
	geocoder   Geocoder
	opts       Options
	log        logrus.FieldLogger
	now        func() time.Time
	sleep      climate.Sleeper
}

// Option customises a Service.
type Option func(*Service)

// WithStationSource enables the geolocation harvester.
func WithStationSource(src climate.StationSource, registry StationRegistry) Option {
	return func(s *Service) {
		s.stations = src
		s.registry = registry
	}
}

// WithGeocoder enriches harvested stations with commune and postal code.
func WithGeocoder(g Geocoder) Option {
	return func(s *Service) {
		s.geocoder = g
	}
}

// WithClock overrides the source of "today" for range planning.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithSleeper overrides the reconciliation and circuit cooldown pauses.
func WithSleeper(sleep climate.Sleeper) Option {
	return func(s *Service) {
		s.sleep = sleep
	}
}

// NewService creates a new Service.
func NewService(downloader climate.Downloader, archives Archives, opts Options, log logrus.FieldLogger, extra ...Option) *Service {
	if opts.HistoryStart.IsZero() {
		opts.HistoryStart = climate.DefaultHistoryStart()
	}
	if opts.RequestBudget <= 0 {
		opts.RequestBudget = 1
	}
	if opts.RepairBudget <= 0 {
		opts.RepairBudget = 1
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 1
	}
	if opts.MaxDateAttempts <= 0 {
		opts.MaxDateAttempts = 1
	}
	if opts.CircuitCooldown <= 0 {
		opts.CircuitCooldown = 2 * time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Service{
		downloader: downloader,
		archives:   archives,
		opts:       opts,
		log:        log.WithField(logger.FieldComponent, "pipeline"),
		now:        time.Now,
		sleep:      climate.SleepContext,
	}
	for _, o := range extra {
		o(s)
	}
	return s
}

// RangeFailure is a sub-range that never completed within its budget.
type RangeFailure struct {
	Request climate.DownloadRequest
	Err     error
}

// DownloadReport summarises the download of a station's history.
type DownloadReport struct {
	RunID   string
	Station climate.StationID
	Chunks  []climate.RangeChunk
	Reused  int
	Failed  []RangeFailure
}

// Incomplete reports whether some sub-range could not be downloaded. The
// caller decides whether to abort or carry on with partial data.
func (r DownloadReport) Incomplete() bool {
	return len(r.Failed) > 0
}

// DownloadStation downloads every sub-range of the station's historical
// window. Ranges are independent: one failing does not stop the others.
func (s *Service) DownloadStation(ctx context.Context, station climate.StationID) (DownloadReport, error) {
	report := DownloadReport{RunID: uuid.NewString(), Station: station}
	log := s.log.WithFields(logrus.Fields{logger.FieldRunID: report.RunID, logger.FieldStation: station})

	reqs := climate.AnnualRequests(station, s.opts.HistoryStart, s.now())
	log.Infof("downloading %d ranges from %s", len(reqs), s.opts.HistoryStart.Format(time.DateOnly))

	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		switch o := s.download(ctx, req, s.opts.RequestBudget, log).(type) {
		case climate.Completed:
			report.Chunks = append(report.Chunks, climate.RangeChunk{Station: station, Start: req.Start, End: req.End, Path: o.Path})
			if o.Reused {
				report.Reused++
			}
		case climate.Failed:
			report.Failed = append(report.Failed, RangeFailure{Request: req, Err: o.Err})
			log.WithField(logger.FieldRange, req.String()).Errorf("range not downloaded after %d attempts: %v", s.opts.RequestBudget, o.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if report.Incomplete() {
		log.Warnf("station incompletely downloaded: %d of %d ranges failed", len(report.Failed), len(reqs))
	} else {
		log.Infof("station downloaded: %d ranges (%d already present)", len(report.Chunks), report.Reused)
	}
	return report, nil
}

// DownloadRange downloads one explicit range under the request budget.
func (s *Service) DownloadRange(ctx context.Context, req climate.DownloadRequest) (climate.RangeChunk, error) {
	if err := req.Validate(); err != nil {
		return climate.RangeChunk{}, err
	}
	log := s.log.WithFields(logrus.Fields{logger.FieldRunID: uuid.NewString(), logger.FieldStation: req.Station})

	switch o := s.download(ctx, req, s.opts.RequestBudget, log).(type) {
	case climate.Completed:
		return climate.RangeChunk{Station: req.Station, Start: req.Start, End: req.End, Path: o.Path}, nil
	case climate.Failed:
		return climate.RangeChunk{}, fmt.Errorf("download %s: %w", req, o.Err)
	default:
		return climate.RangeChunk{}, fmt.Errorf("download %s: unexpected outcome %T", req, o)
	}
}

// download runs the whole submit+fetch sequence up to budget times. This sits
// above the transport retries and catches orders that end without a file.
// An attempt rejected by an open circuit breaker never reached upstream: it
// waits out CircuitCooldown and is retried without spending the budget, at
// most CircuitWaits times per request.
func (s *Service) download(ctx context.Context, req climate.DownloadRequest, budget int, log logrus.FieldLogger) climate.DownloadOutcome {
	var last climate.DownloadOutcome = climate.Failed{Err: fmt.Errorf("download %s: no attempt made", req)}
	waits := 0
	for attempt := 1; attempt <= budget; {
		out := s.downloader.Download(ctx, req)
		entry := log.WithFields(logrus.Fields{
			logger.FieldRange:   req.String(),
			logger.FieldAttempt: attempt,
		})
		switch o := out.(type) {
		case climate.Completed:
			return o
		case climate.Failed:
			last = o
			if errors.Is(o.Err, climate.ErrCircuitOpen) && waits < s.opts.CircuitWaits {
				waits++
				entry.Warnf("circuit open, waiting %s before retrying", s.opts.CircuitCooldown)
				if err := s.sleep(ctx, s.opts.CircuitCooldown); err != nil {
					return climate.Failed{Err: err}
				}
				continue
			}
			entry.Warnf("download attempt failed: %v", o.Err)
		default:
			last = climate.Failed{Err: fmt.Errorf("download %s: unexpected outcome %T", req, out)}
		}
		if err := ctx.Err(); err != nil {
			return climate.Failed{Err: err}
		}
		attempt++
	}
	return last
}

// Assemble folds the station's chunks into its archive.
func (s *Service) Assemble(station climate.StationID) (climate.StationArchive, error) {
	archive, err := s.archives.Assemble(station)
	if err != nil {
		return climate.StationArchive{}, err
	}
	s.log.WithField(logger.FieldStation, station).Infof("archive assembled with %d rows", len(archive.Records))
	return archive, nil
}

// Verify checks the station archive for duplicate and missing dates.
func (s *Service) Verify(station climate.StationID) (climate.QualityReport, error) {
	archive, err := s.archives.Load(station)
	if err != nil {
		return climate.QualityReport{}, err
	}
	return climate.Verify(archive), nil
}

// BuildReport covers a full download, assembly and reconciliation run.
type BuildReport struct {
	Download  DownloadReport
	Reconcile ReconcileResult
}

// Build runs the whole flow for one station: download the history, assemble
// whatever chunks exist, then reconcile. An incomplete download is logged and
// the station is still built from partial data.
func (s *Service) Build(ctx context.Context, station climate.StationID) (BuildReport, error) {
	var report BuildReport

	dl, err := s.DownloadStation(ctx, station)
	report.Download = dl
	if err != nil {
		return report, err
	}
	if dl.Incomplete() {
		s.log.WithField(logger.FieldStation, station).Warn("building archive from partial data")
	}

	if _, err := s.Assemble(station); err != nil {
		return report, err
	}

	rec, err := s.Reconcile(ctx, station)
	report.Reconcile = rec
	return report, err
}
