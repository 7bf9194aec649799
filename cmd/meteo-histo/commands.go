package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/common"
	"github.com/i474232898/meteo-histo/internal/logger"
	"github.com/i474232898/meteo-histo/internal/store"
)

// signalContext is cancelled on SIGINT or SIGTERM so long downloads stop
// between suspensions.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(flag.CommandLine.Output())
	return fs
}

// forEachStation runs fn for every station under its lock and returns an
// error naming how many failed. One failing station does not stop the others.
func (a *app) forEachStation(stations []climate.StationID, fn func(climate.StationID) error) error {
	failed := 0
	for _, st := range stations {
		err := a.withStationLock(st, func() error { return fn(st) })
		if err != nil {
			failed++
			a.log.WithField(logger.FieldStation, st).Error(err)
			if errors.Is(err, context.Canceled) {
				break
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d stations failed", failed, len(stations))
	}
	return nil
}

func (a *app) runDownload(args []string) error {
	fs := newFlagSet("download")
	from := fs.String("from", "", "range start YYYY-MM-DD (with -to: download a single range)")
	to := fs.String("to", "", "range end YYYY-MM-DD, exclusive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireClient(); err != nil {
		return err
	}
	stations, err := a.stationArgs(fs.Args())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	if *from != "" || *to != "" {
		start, okStart := store.ParseDate(*from)
		end, okEnd := store.ParseDate(*to)
		if !okStart || !okEnd {
			return errors.New("-from and -to must both be valid dates")
		}
		return a.forEachStation(stations, func(st climate.StationID) error {
			req, err := climate.NewDownloadRequest(st, start, end)
			if err != nil {
				return err
			}
			chunk, err := a.service.DownloadRange(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", req, chunk.Path)
			return nil
		})
	}

	return a.forEachStation(stations, func(st climate.StationID) error {
		report, err := a.service.DownloadStation(ctx, st)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d chunks (%d reused), %d failed\n", st, len(report.Chunks), report.Reused, len(report.Failed))
		if report.Incomplete() {
			return fmt.Errorf("station %s incompletely downloaded", st)
		}
		return nil
	})
}

func (a *app) runAssemble(args []string) error {
	fs := newFlagSet("assemble")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stations, err := a.stationArgs(fs.Args())
	if err != nil {
		return err
	}

	return a.forEachStation(stations, func(st climate.StationID) error {
		archive, err := a.service.Assemble(st)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d rows\t%s\n", st, len(archive.Records), a.archives.Layout().ArchivePath(st))
		return nil
	})
}

func (a *app) runVerify(args []string) error {
	fs := newFlagSet("verify")
	repair := fs.Bool("repair", false, "deduplicate and re-download missing dates")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repair {
		if err := a.requireClient(); err != nil {
			return err
		}
	}
	stations, err := a.stationArgs(fs.Args())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	return a.forEachStation(stations, func(st climate.StationID) error {
		if !*repair {
			report, err := a.service.Verify(st)
			if err != nil {
				return err
			}
			printReport(report)
			if !report.Clean() {
				return fmt.Errorf("station %s is not clean", st)
			}
			return nil
		}

		result, err := a.service.Reconcile(ctx, st)
		if err != nil {
			return err
		}
		printReport(result.Report)
		fmt.Printf("%s\t%d iterations, %d duplicates removed, %d dates repaired, %d permanently missing\n",
			st, result.Iterations, result.Deduplicated, len(result.Repaired), len(result.PermanentlyMissing))
		if !result.Clean() {
			return fmt.Errorf("station %s is not clean", st)
		}
		return nil
	})
}

func (a *app) runBuild(args []string) error {
	fs := newFlagSet("build")
	prune := fs.Bool("prune", false, "delete range chunks once the archive is built")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireClient(); err != nil {
		return err
	}
	stations, err := a.stationArgs(fs.Args())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	return a.forEachStation(stations, func(st climate.StationID) error {
		report, err := a.service.Build(ctx, st)
		if err != nil {
			return err
		}
		printReport(report.Reconcile.Report)
		if *prune {
			if _, err := a.archives.DeleteChunks(st); err != nil {
				return err
			}
		}
		if report.Download.Incomplete() {
			return fmt.Errorf("station %s built from partial data", st)
		}
		return nil
	})
}

func (a *app) runAggregate(args []string) error {
	fs := newFlagSet("aggregate")
	output := fs.String("o", "", "output file (default <data dir>/"+store.AggregateFileName+"; .gz compresses)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n, err := a.archives.AggregateStations(*output)
	if err != nil {
		return err
	}
	fmt.Printf("aggregated %d stations\n", n)
	return nil
}

func (a *app) runPrune(args []string) error {
	fs := newFlagSet("prune")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stations, err := a.stationArgs(fs.Args())
	if err != nil {
		return err
	}

	return a.forEachStation(stations, func(st climate.StationID) error {
		n, err := a.archives.DeleteChunks(st)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d chunks deleted\n", st, n)
		return nil
	})
}

func (a *app) runStations(args []string) error {
	fs := newFlagSet("stations")
	deps := fs.String("dep", "", "comma-separated departements (default: all)")
	id := fs.String("id", "", "fetch the metadata of a single station")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireClient(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	if *id != "" {
		st, err := a.service.StationMetadata(ctx, climate.StationID(*id))
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%.4f,%.4f\t%.0fm\topen=%t\n", st.ID, st.Name, st.Latitude, st.Longitude, st.Altitude, st.Open)
		return nil
	}

	departements := climate.FrenchDepartements
	if *deps != "" {
		departements = nil
		for _, d := range common.SplitList(*deps) {
			n, err := strconv.Atoi(d)
			if err != nil {
				return fmt.Errorf("invalid departement %q", d)
			}
			departements = append(departements, n)
		}
	}

	started := time.Now()
	report, err := a.service.HarvestDepartements(ctx, departements)
	if err != nil {
		return err
	}
	fmt.Printf("%d departements, %d stations listed, %d added to %s in %s\n",
		report.Departements, report.Listed, report.Added, a.registry.Path, time.Since(started).Round(time.Second))
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d departements failed", len(report.Failed))
	}
	return nil
}

func printReport(r climate.QualityReport) {
	status := "clean"
	if !r.Clean() {
		status = "dirty"
	}
	fmt.Fprintf(os.Stdout, "%s\t%s\t%d duplicate dates\t%d missing dates\n", r.Station, status, len(r.Duplicates), len(r.Missing))
}
