package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/logger"
)

// ReconcileResult describes one reconciliation run over a station archive.
type ReconcileResult struct {
	RunID              string
	Station            climate.StationID
	Iterations         int
	Deduplicated       int         // rows dropped as duplicates
	Repaired           []time.Time // dates filled by targeted downloads
	PermanentlyMissing []time.Time // dates upstream never returned
	Report             climate.QualityReport
}

// Clean reports whether the archive ended with no duplicates and no gaps.
func (r ReconcileResult) Clean() bool {
	return r.Report.Clean()
}

// Reconcile repeatedly deduplicates the archive and re-downloads its missing
// dates one day at a time, until both checks pass in the same iteration or
// the iteration bound is reached. A date absent from MaxDateAttempts completed
// single-day downloads is recorded as a permanent gap and no longer retried.
// A date whose download keeps failing stays pending and is never recorded.
func (s *Service) Reconcile(ctx context.Context, station climate.StationID) (ReconcileResult, error) {
	result := ReconcileResult{RunID: uuid.NewString(), Station: station}
	log := s.log.WithFields(logrus.Fields{logger.FieldRunID: result.RunID, logger.FieldStation: station})

	known, err := s.archives.LoadGaps(station)
	if err != nil {
		return result, err
	}
	gaps := daySet(known)
	attempts := make(map[time.Time]int)

	for iter := 1; iter <= s.opts.MaxIterations; iter++ {
		if iter > 1 {
			if err := s.sleep(ctx, s.opts.RecheckInterval); err != nil {
				return result, err
			}
		}
		result.Iterations = iter

		archive, dropped, err := s.dedupe(station, log)
		if err != nil {
			return result, err
		}
		result.Deduplicated += dropped

		pending := withoutDays(climate.FindMissing(archive.Records), gaps)
		if len(pending) == 0 {
			break
		}
		log.Infof("iteration %d: repairing %d missing dates", iter, len(pending))

		fetched := s.repair(ctx, station, pending, log)
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if len(fetched) > 0 {
			paths := make([]string, 0, len(fetched))
			for _, d := range pending {
				if p, ok := fetched[d]; ok {
					paths = append(paths, p)
				}
			}
			if archive, err = s.archives.MergeIncremental(station, paths); err != nil {
				return result, err
			}
		}

		still := daySet(climate.FindMissing(archive.Records))
		for _, d := range pending {
			if _, missing := still[d]; !missing {
				result.Repaired = append(result.Repaired, d)
				delete(attempts, d)
				continue
			}
			// Only an answer without the date counts; a failed download
			// says nothing about what upstream holds.
			if _, ok := fetched[d]; !ok {
				continue
			}
			attempts[d]++
			if attempts[d] >= s.opts.MaxDateAttempts {
				gaps[d] = struct{}{}
				log.WithField("date", d.Format(time.DateOnly)).
					Warnf("%v after %d repair rounds", climate.ErrMissingDatePersistent, attempts[d])
			}
		}
	}

	// A merge in the last iteration may have brought boundary duplicates back.
	archive, dropped, err := s.dedupe(station, log)
	if err != nil {
		return result, err
	}
	result.Deduplicated += dropped

	result.Report = climate.Verify(archive)
	result.PermanentlyMissing = intersectDays(result.Report.Missing, gaps)
	if err := s.archives.SaveGaps(station, result.PermanentlyMissing); err != nil {
		return result, err
	}
	sortDays(result.Repaired)

	entry := log.WithFields(logrus.Fields{
		"iterations":   result.Iterations,
		"deduplicated": result.Deduplicated,
		"repaired":     len(result.Repaired),
	})
	if result.Clean() {
		entry.Info("archive reconciled")
	} else {
		entry.Warnf("archive not clean: %d duplicate dates, %d missing dates (%d permanent)",
			len(result.Report.Duplicates), len(result.Report.Missing), len(result.PermanentlyMissing))
	}
	return result, nil
}

// dedupe loads the archive and rewrites it without duplicate dates.
func (s *Service) dedupe(station climate.StationID, log logrus.FieldLogger) (climate.StationArchive, int, error) {
	archive, err := s.archives.Load(station)
	if err != nil {
		return climate.StationArchive{}, 0, err
	}
	dups := climate.FindDuplicates(archive.Records)
	if len(dups) == 0 {
		return archive, 0, nil
	}

	kept, dropped := climate.Dedupe(archive.Records)
	archive.Records = kept
	if err := s.archives.Save(archive); err != nil {
		return climate.StationArchive{}, 0, err
	}
	log.Infof("removed %d duplicate rows over %d dates", dropped, len(dups))
	return archive, dropped, nil
}

// repair downloads one single-day range per date and returns the chunk path
// of every day whose download completed, keyed by day. Failed days are left
// for the next iteration.
func (s *Service) repair(ctx context.Context, station climate.StationID, dates []time.Time, log logrus.FieldLogger) map[time.Time]string {
	fetched := make(map[time.Time]string, len(dates))
	for _, req := range climate.DailyRequests(station, dates) {
		if ctx.Err() != nil {
			break
		}
		if c, ok := s.download(ctx, req, s.opts.RepairBudget, log).(climate.Completed); ok {
			fetched[req.Start] = c.Path
		}
	}
	return fetched
}

func daySet(days []time.Time) map[time.Time]struct{} {
	set := make(map[time.Time]struct{}, len(days))
	for _, d := range days {
		set[climate.Day(d)] = struct{}{}
	}
	return set
}

func withoutDays(days []time.Time, exclude map[time.Time]struct{}) []time.Time {
	var out []time.Time
	for _, d := range days {
		if _, ok := exclude[climate.Day(d)]; !ok {
			out = append(out, climate.Day(d))
		}
	}
	return out
}

func intersectDays(days []time.Time, keep map[time.Time]struct{}) []time.Time {
	out := []time.Time{}
	for _, d := range days {
		if _, ok := keep[climate.Day(d)]; ok {
			out = append(out, climate.Day(d))
		}
	}
	return out
}

func sortDays(days []time.Time) {
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
}
