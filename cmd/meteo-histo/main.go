package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/climate/meteofrance"
	"github.com/i474232898/meteo-histo/internal/config"
	"github.com/i474232898/meteo-histo/internal/geocode"
	"github.com/i474232898/meteo-histo/internal/logger"
	"github.com/i474232898/meteo-histo/internal/pipeline"
	"github.com/i474232898/meteo-histo/internal/store"
)

const usage = `usage: meteo-histo [-config file] <command> [flags] [station...]

commands:
  download   download the history of stations (or one range with -from/-to)
  assemble   concatenate downloaded chunks into station archives
  verify     report duplicate and missing dates (-repair to fix them)
  build      download, assemble and reconcile stations
  aggregate  concatenate every station archive into one file
  prune      delete range chunks of assembled stations
  stations   harvest station metadata by departement
  serve      run the read API and the periodic refresh
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	configPath := ""
	if len(args) >= 2 && (args[0] == "-config" || args[0] == "--config") {
		configPath, args = args[1], args[2:]
	}
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		fmt.Print(usage)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, closer := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "meteo-histo",
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	defer closer.Close()

	a := newApp(cfg, log)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "download":
		return a.runDownload(rest)
	case "assemble":
		return a.runAssemble(rest)
	case "verify":
		return a.runVerify(rest)
	case "build":
		return a.runBuild(rest)
	case "aggregate":
		return a.runAggregate(rest)
	case "prune":
		return a.runPrune(rest)
	case "stations":
		return a.runStations(rest)
	case "serve":
		return a.runServe(rest)
	default:
		fmt.Print(usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// app holds the wiring shared by every command.
type app struct {
	cfg      *config.Config
	log      *logrus.Entry
	archives *store.ArchiveStore
	registry store.StationsFile
	client   *meteofrance.Client
	service  *pipeline.Service
}

func newApp(cfg *config.Config, log *logrus.Entry) *app {
	a := &app{
		cfg:      cfg,
		log:      log,
		archives: store.NewArchiveStore(cfg.Storage.DataDir, log),
		registry: store.StationsFile{Path: cfg.Storage.StationsFile},
	}

	// Commands that only touch local files work without an API key.
	var downloader climate.Downloader = offlineDownloader{}
	var extra []pipeline.Option
	if cfg.API.Key != "" {
		client, err := meteofrance.NewClient(&http.Client{Timeout: cfg.API.Timeout}, meteofrance.Config{
			BaseURL:      cfg.API.BaseURL,
			APIKey:       cfg.API.Key,
			PollInterval: cfg.API.PollInterval,
			MaxPolls:     cfg.API.MaxPolls,
			Backoff: meteofrance.BackoffConfig{
				MaxAttempts:     cfg.Retry.MaxAttempts,
				InitialInterval: cfg.Retry.InitialInterval,
				MaxInterval:     cfg.Retry.MaxInterval,
			},
			BreakerThreshold: cfg.Retry.BreakerThreshold,
			BreakerTimeout:   cfg.Retry.BreakerTimeout,
		}, a.archives, meteofrance.WithLogger(log))
		if err != nil {
			log.Warnf("upstream client disabled: %v", err)
		} else {
			a.client = client
			downloader = client
			extra = append(extra, pipeline.WithStationSource(client, a.registry))
		}
	}

	if cfg.Geocoder.APIKey != "" {
		g, err := geocode.New(cfg.Geocoder.APIKey)
		if err != nil {
			log.Warnf("geocoding disabled: %v", err)
		} else {
			extra = append(extra, pipeline.WithGeocoder(g))
		}
	}

	a.service = pipeline.NewService(downloader, a.archives, pipeline.Options{
		HistoryStart:    cfg.Pipeline.HistoryStartTime(),
		RequestBudget:   cfg.Pipeline.RequestBudget,
		RepairBudget:    cfg.Pipeline.RepairBudget,
		RecheckInterval: cfg.Pipeline.RecheckInterval,
		MaxIterations:   cfg.Pipeline.MaxIterations,
		MaxDateAttempts: cfg.Pipeline.MaxDateAttempts,
		CircuitCooldown: cfg.Retry.BreakerTimeout,
		CircuitWaits:    cfg.Pipeline.CircuitWaits,
	}, log, extra...)
	return a
}

var errNoAPIKey = errors.New("METEO_API_KEY is required for this command")

func (a *app) requireClient() error {
	if a.client == nil {
		return errNoAPIKey
	}
	return nil
}

// stationArgs returns the stations named on the command line, falling back
// to the configured list.
func (a *app) stationArgs(args []string) ([]climate.StationID, error) {
	names := args
	if len(names) == 0 {
		names = a.cfg.Pipeline.Stations
	}
	if len(names) == 0 {
		return nil, errors.New("no station given and none configured (METEO_STATIONS)")
	}
	out := make([]climate.StationID, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out = append(out, climate.StationID(n))
	}
	return out, nil
}

// withStationLock runs fn while holding the station's lock.
func (a *app) withStationLock(station climate.StationID, fn func() error) error {
	lock, err := a.archives.Layout().AcquireStationLock(station)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.log.WithField(logger.FieldStation, station).Warnf("release lock: %v", err)
		}
	}()
	return fn()
}

// offlineDownloader stands in for the upstream client when no key is set.
type offlineDownloader struct{}

func (offlineDownloader) Download(_ context.Context, _ climate.DownloadRequest) climate.DownloadOutcome {
	return climate.Failed{Err: errNoAPIKey}
}
