package climate

import (
	"sort"
	"time"
)

// DefaultHistoryStart is the first day of the default historical window,
// 2017-01-01 UTC.
func DefaultHistoryStart() time.Time {
	return time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// AnnualRequests partitions [start, today) into year-aligned ranges. The first
// range starts at start, the last one is truncated at today. Each range fits the
// upstream one-year limit; together they are contiguous and non-overlapping.
func AnnualRequests(station StationID, start, today time.Time) []DownloadRequest {
	start, today = Day(start), Day(today)

	var reqs []DownloadRequest
	for from := start; from.Before(today); {
		to := time.Date(from.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC)
		if to.After(today) {
			to = today
		}
		reqs = append(reqs, DownloadRequest{Station: station, Start: from, End: to})
		from = to
	}
	return reqs
}

// HistoryRequests covers the default window [DefaultHistoryStart, today).
func HistoryRequests(station StationID, now time.Time) []DownloadRequest {
	return AnnualRequests(station, DefaultHistoryStart(), now)
}

// DailyRequests returns one single-day request per distinct date, ascending.
// It is used to re-download exactly the dates missing from an archive.
func DailyRequests(station StationID, dates []time.Time) []DownloadRequest {
	days := uniqueDays(dates)
	reqs := make([]DownloadRequest, 0, len(days))
	for _, d := range days {
		reqs = append(reqs, DownloadRequest{Station: station, Start: d, End: d.AddDate(0, 0, 1)})
	}
	return reqs
}

func uniqueDays(dates []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = Day(d)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
