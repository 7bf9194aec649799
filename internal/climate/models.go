package climate

import (
	"fmt"
	"time"
)

// DateLayout is the canonical calendar representation of the archive date column.
// It matches the upstream's own daily CSV format.
const DateLayout = "20060102"

// StationID identifies a Météo-France climatological station (e.g. "59343001").
type StationID string

func (s StationID) String() string {
	return string(s)
}

// DownloadRequest is one unit of work: a station and a half-open [Start, End) range.
// Requests are values; they are never mutated once built.
type DownloadRequest struct {
	Station StationID `json:"station"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// NewDownloadRequest builds a validated request with both bounds in UTC.
func NewDownloadRequest(station StationID, start, end time.Time) (DownloadRequest, error) {
	req := DownloadRequest{Station: station, Start: start.UTC(), End: end.UTC()}
	if err := req.Validate(); err != nil {
		return DownloadRequest{}, err
	}
	return req, nil
}

// Validate checks the request against the upstream constraints: a non-empty
// station, a non-empty range, and a span of at most one calendar year.
func (r DownloadRequest) Validate() error {
	if r.Station == "" {
		return fmt.Errorf("%w: station is required", ErrInvalidRequest)
	}
	if !r.End.After(r.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidRequest, r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	if r.End.After(r.Start.AddDate(1, 0, 0)) {
		return fmt.Errorf("%w: range %s exceeds one year", ErrInvalidRequest, r)
	}
	return nil
}

// String renders the range as "station[YYYY-MM-DD, YYYY-MM-DD)".
func (r DownloadRequest) String() string {
	return fmt.Sprintf("%s[%s, %s)", r.Station, r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}

// OrderToken is the upstream handle for a submitted extraction. It carries the
// request that produced it so it cannot be fetched against another range.
type OrderToken struct {
	ID      string
	Request DownloadRequest
}

// DownloadOutcome is the result of fetching an order: either Completed or Failed.
type DownloadOutcome interface {
	outcome()
}

// Completed holds the produced CSV payload and where it lives on disk.
// Reused is set when the chunk already existed and nothing was fetched.
type Completed struct {
	Payload []byte
	Path    string
	Reused  bool
}

// Failed carries the reason an order did not complete.
type Failed struct {
	Err error
}

func (Completed) outcome() {}
func (Failed) outcome()    {}

func (f Failed) Error() string {
	if f.Err == nil {
		return "download failed"
	}
	return f.Err.Error()
}

func (f Failed) Unwrap() error {
	return f.Err
}

// RangeChunk is one downloaded file covering a station and a sub-range.
type RangeChunk struct {
	Station StationID
	Start   time.Time
	End     time.Time
	Path    string
}

// Record is one daily row of a station archive. Values holds every column
// after the station and date columns, verbatim.
type Record struct {
	Station StationID
	Date    time.Time
	Values  []string
}

// StationArchive is the ordered per-station table. Before reconciliation it may
// contain duplicate or missing dates.
type StationArchive struct {
	Station StationID
	Header  []string
	Records []Record
}

// Dates returns the record dates in file order.
func (a StationArchive) Dates() []time.Time {
	dates := make([]time.Time, len(a.Records))
	for i, r := range a.Records {
		dates[i] = r.Date
	}
	return dates
}

// Span returns the first and last calendar days present in the archive.
func (a StationArchive) Span() (first, last time.Time, ok bool) {
	for i, r := range a.Records {
		if i == 0 || r.Date.Before(first) {
			first = r.Date
		}
		if i == 0 || r.Date.After(last) {
			last = r.Date
		}
	}
	return first, last, len(a.Records) > 0
}

// QualityReport lists the dates breaking the archive invariants. Both slices are
// ascending and hold each date once.
type QualityReport struct {
	Station    StationID   `json:"station"`
	Duplicates []time.Time `json:"duplicates"`
	Missing    []time.Time `json:"missing"`
}

// Clean reports whether the archive has neither duplicate nor missing dates.
func (q QualityReport) Clean() bool {
	return len(q.Duplicates) == 0 && len(q.Missing) == 0
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
