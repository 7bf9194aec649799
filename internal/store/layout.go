package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/i474232898/meteo-histo/internal/climate"
)

// DefaultDataDir is the root of the per-station directories.
const DefaultDataDir = "data_meteo_histo"

// AggregateFileName is the multi-station archive written under the data root.
const AggregateFileName = "stations_weather_data_histo.csv"

var chunkNamePattern = regexp.MustCompile(`^from(\d{4}-\d{2}-\d{2})_to(\d{4}-\d{2}-\d{2})\.csv$`)

// Layout maps stations and ranges to paths:
//
//	<root>/<station>/from<YYYY-MM-DD>_to<YYYY-MM-DD>.csv  chunk
//	<root>/<station>/<station>_histo.csv                  archive
//	<root>/<station>/<station>_gaps.json                  permanent gaps
type Layout struct {
	Root string
}

func (l Layout) StationDir(station climate.StationID) string {
	return filepath.Join(l.Root, station.String())
}

// ChunkName is zero-padded so lexicographic order is chronological order.
func ChunkName(start, end time.Time) string {
	return fmt.Sprintf("from%s_to%s.csv", start.UTC().Format(time.DateOnly), end.UTC().Format(time.DateOnly))
}

func (l Layout) ChunkPath(req climate.DownloadRequest) string {
	return filepath.Join(l.StationDir(req.Station), ChunkName(req.Start, req.End))
}

func (l Layout) ArchivePath(station climate.StationID) string {
	return filepath.Join(l.StationDir(station), station.String()+"_histo.csv")
}

func (l Layout) GapsPath(station climate.StationID) string {
	return filepath.Join(l.StationDir(station), station.String()+"_gaps.json")
}

func (l Layout) AggregatePath() string {
	return filepath.Join(l.Root, AggregateFileName)
}

// ParseChunkName extracts the range encoded in a chunk file name.
func ParseChunkName(name string) (start, end time.Time, ok bool) {
	m := chunkNamePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, time.Time{}, false
	}
	start, err1 := time.Parse(time.DateOnly, m[1])
	end, err2 := time.Parse(time.DateOnly, m[2])
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// ListChunks returns the station's chunk files in lexicographic file-name order.
// Files that do not follow the chunk naming scheme, the archive included, are ignored.
func (l Layout) ListChunks(station climate.StationID) ([]climate.RangeChunk, error) {
	dir := l.StationDir(station)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read station directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && chunkNamePattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	chunks := make([]climate.RangeChunk, 0, len(names))
	for _, name := range names {
		start, end, _ := ParseChunkName(name)
		chunks = append(chunks, climate.RangeChunk{
			Station: station,
			Start:   start,
			End:     end,
			Path:    filepath.Join(dir, name),
		})
	}
	return chunks, nil
}

// ListStations returns every station directory holding an archive, sorted.
func (l Layout) ListStations() ([]climate.StationID, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []climate.StationID{}, nil
		}
		return nil, fmt.Errorf("read data directory %s: %w", l.Root, err)
	}

	stations := []climate.StationID{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := climate.StationID(e.Name())
		if _, err := os.Stat(l.ArchivePath(id)); err == nil {
			stations = append(stations, id)
		}
	}
	sort.Slice(stations, func(i, j int) bool { return stations[i] < stations[j] })
	return stations, nil
}
