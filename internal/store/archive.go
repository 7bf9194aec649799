package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/meteo-histo/internal/climate"
)

var (
	// ErrNotFound is returned when no archive exists for a station.
	ErrNotFound = errors.New("no weather archive for station")
)

// ArchiveStore keeps chunks and station archives on the filesystem. It does no
// locking: concurrent writers on one station must be serialised by the caller
// (see AcquireStationLock).
type ArchiveStore struct {
	layout Layout
	log    logrus.FieldLogger
}

// NewArchiveStore creates a store rooted at root.
func NewArchiveStore(root string, log logrus.FieldLogger) *ArchiveStore {
	if root == "" {
		root = DefaultDataDir
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ArchiveStore{
		layout: Layout{Root: root},
		log:    log.WithField("component", "store"),
	}
}

func (s *ArchiveStore) Layout() Layout {
	return s.layout
}

// ReadChunk returns the stored chunk for req, or an fs.ErrNotExist error.
func (s *ArchiveStore) ReadChunk(req climate.DownloadRequest) ([]byte, string, error) {
	path := s.layout.ChunkPath(req)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}
	return data, path, nil
}

// WriteChunk stores payload as the chunk for req unless that chunk already
// exists, in which case the existing file is left untouched.
func (s *ArchiveStore) WriteChunk(req climate.DownloadRequest, payload []byte) (string, bool, error) {
	path := s.layout.ChunkPath(req)
	written, err := createFileExclusive(path, payload)
	return path, written, err
}

// Assemble concatenates every chunk of the station, in file-name order, into
// the archive file. Only the first chunk's header is kept. Rows are copied
// verbatim, so chunks overlapping on a date produce duplicates that the
// reconciler has to remove.
func (s *ArchiveStore) Assemble(station climate.StationID) (climate.StationArchive, error) {
	chunks, err := s.layout.ListChunks(station)
	if err != nil {
		return climate.StationArchive{}, err
	}
	if len(chunks) == 0 {
		return climate.StationArchive{}, fmt.Errorf("%w: station %s", climate.ErrNoChunksFound, station)
	}

	var buf bytes.Buffer
	haveHeader := false
	for _, c := range chunks {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			return climate.StationArchive{}, fmt.Errorf("read chunk %s: %w", c.Path, err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		if haveHeader {
			_, data = splitHeader(data)
		}
		haveHeader = true
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}

	path := s.layout.ArchivePath(station)
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return climate.StationArchive{}, err
	}
	s.log.WithField("station", station).Infof("assembled %d chunks into %s", len(chunks), path)
	return s.Load(station)
}

// Load reads the station archive. Blank rows and rows without a parseable
// date are skipped.
func (s *ArchiveStore) Load(station climate.StationID) (climate.StationArchive, error) {
	path := s.layout.ArchivePath(station)
	header, rows, err := readTable(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return climate.StationArchive{}, fmt.Errorf("%w: %s", ErrNotFound, station)
		}
		return climate.StationArchive{}, err
	}

	archive := climate.StationArchive{Station: station, Header: header, Records: make([]climate.Record, 0, len(rows))}
	skipped := 0
	for _, row := range rows {
		rec, ok := recordFromRow(station, row)
		if !ok {
			if !isBlankRow(row) {
				skipped++
			}
			continue
		}
		archive.Records = append(archive.Records, rec)
	}
	if skipped > 0 {
		s.log.WithField("station", station).Warnf("skipped %d rows without a valid date in %s", skipped, path)
	}
	return archive, nil
}

// Save rewrites the whole archive file.
func (s *ArchiveStore) Save(archive climate.StationArchive) error {
	data, err := encodeArchive(archive)
	if err != nil {
		return fmt.Errorf("encode archive %s: %w", archive.Station, err)
	}
	return writeFileAtomic(s.layout.ArchivePath(archive.Station), data)
}

// MergeIncremental appends the rows of chunkPaths to the existing archive (or
// to an empty one), normalises dates to the canonical representation, drops
// blank rows, orders rows by date and rewrites the archive. Rows sharing a
// date keep their relative order.
func (s *ArchiveStore) MergeIncremental(station climate.StationID, chunkPaths []string) (climate.StationArchive, error) {
	archive, err := s.Load(station)
	if errors.Is(err, ErrNotFound) {
		archive = climate.StationArchive{Station: station}
	} else if err != nil {
		return climate.StationArchive{}, err
	}

	added := 0
	for _, p := range chunkPaths {
		header, rows, err := readTable(p)
		if err != nil {
			return climate.StationArchive{}, fmt.Errorf("read chunk %s: %w", p, err)
		}
		if len(archive.Header) == 0 && len(header) > 0 {
			archive.Header = header
		}
		for _, row := range rows {
			if rec, ok := recordFromRow(station, row); ok {
				archive.Records = append(archive.Records, rec)
				added++
			}
		}
	}

	sort.SliceStable(archive.Records, func(i, j int) bool {
		return archive.Records[i].Date.Before(archive.Records[j].Date)
	})
	if err := s.Save(archive); err != nil {
		return climate.StationArchive{}, err
	}
	s.log.WithField("station", station).Infof("merged %d rows from %d chunks", added, len(chunkPaths))
	return archive, nil
}

// DeleteChunks removes the range chunks of a station once its archive exists.
// Later downloads of the same ranges will hit the network again.
func (s *ArchiveStore) DeleteChunks(station climate.StationID) (int, error) {
	if _, err := os.Stat(s.layout.ArchivePath(station)); err != nil {
		return 0, fmt.Errorf("%w: %s: refusing to delete chunks", ErrNotFound, station)
	}
	chunks, err := s.layout.ListChunks(station)
	if err != nil {
		return 0, err
	}
	for i, c := range chunks {
		if err := os.Remove(c.Path); err != nil {
			return i, fmt.Errorf("delete chunk %s: %w", c.Path, err)
		}
	}
	s.log.WithField("station", station).Infof("deleted %d chunk files", len(chunks))
	return len(chunks), nil
}

// AggregateStations concatenates every station archive into output with a
// single header line and returns the number of stations included. An output
// name ending in ".gz" is written gzip-compressed.
func (s *ArchiveStore) AggregateStations(output string) (int, error) {
	stations, err := s.layout.ListStations()
	if err != nil {
		return 0, err
	}
	if len(stations) == 0 {
		return 0, fmt.Errorf("%w: nothing to aggregate under %s", ErrNotFound, s.layout.Root)
	}
	if output == "" {
		output = s.layout.AggregatePath()
	}

	var buf bytes.Buffer
	haveHeader := false
	for _, st := range stations {
		data, err := os.ReadFile(s.layout.ArchivePath(st))
		if err != nil {
			return 0, fmt.Errorf("read archive %s: %w", st, err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		if haveHeader {
			_, data = splitHeader(data)
		}
		haveHeader = true
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}

	data := buf.Bytes()
	if strings.HasSuffix(output, ".gz") {
		if data, err = gzipBytes(data); err != nil {
			return 0, fmt.Errorf("compress %s: %w", output, err)
		}
	}
	if err := writeFileAtomic(output, data); err != nil {
		return 0, err
	}
	s.log.Infof("aggregated %d station archives into %s", len(stations), output)
	return len(stations), nil
}

type gapsFile struct {
	Station   climate.StationID `json:"station"`
	Dates     []string          `json:"dates"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// LoadGaps returns the dates recorded as permanently missing for a station.
func (s *ArchiveStore) LoadGaps(station climate.StationID) ([]time.Time, error) {
	data, err := os.ReadFile(s.layout.GapsPath(station))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read gaps for %s: %w", station, err)
	}

	var gf gapsFile
	if err := json.Unmarshal(data, &gf); err != nil {
		return nil, fmt.Errorf("parse gaps for %s: %w", station, err)
	}
	dates := make([]time.Time, 0, len(gf.Dates))
	for _, d := range gf.Dates {
		if t, ok := ParseDate(d); ok {
			dates = append(dates, t)
		}
	}
	return dates, nil
}

// SaveGaps records the permanently missing dates of a station. An empty list
// removes the marker file.
func (s *ArchiveStore) SaveGaps(station climate.StationID, dates []time.Time) error {
	path := s.layout.GapsPath(station)
	if len(dates) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove gaps for %s: %w", station, err)
		}
		return nil
	}

	gf := gapsFile{Station: station, UpdatedAt: time.Now().UTC()}
	for _, d := range dates {
		gf.Dates = append(gf.Dates, d.UTC().Format(time.DateOnly))
	}
	sort.Strings(gf.Dates)

	data, err := json.MarshalIndent(gf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal gaps for %s: %w", station, err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}
