package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/i474232898/meteo-histo/internal/climate"
)

// DefaultStationsFile is where harvested station metadata is kept.
const DefaultStationsFile = "data/stations.csv"

var stationsHeader = []string{"id_station", "longitude", "latitude", "altitude", "nom", "commune", "code_postal"}

// StationsFile is the flat station metadata table filled by the harvester.
type StationsFile struct {
	Path string
}

// Read returns every station in the file; a missing file is an empty table.
func (f StationsFile) Read() ([]climate.Station, error) {
	header, rows, err := readTable(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []climate.Station{}, nil
		}
		return nil, err
	}
	if len(header) == 0 {
		return []climate.Station{}, nil
	}

	stations := make([]climate.Station, 0, len(rows))
	for _, row := range rows {
		if len(row) < 4 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		st := climate.Station{ID: climate.StationID(strings.TrimSpace(row[0]))}
		st.Longitude, _ = strconv.ParseFloat(row[1], 64)
		st.Latitude, _ = strconv.ParseFloat(row[2], 64)
		st.Altitude, _ = strconv.ParseFloat(row[3], 64)
		if len(row) > 4 {
			st.Name = row[4]
		}
		if len(row) > 5 {
			st.Commune = row[5]
		}
		if len(row) > 6 {
			st.PostalCode = row[6]
		}
		stations = append(stations, st)
	}
	return stations, nil
}

// Append adds stations whose id is not yet in the file and returns how many
// were written. The header is written when the file is created.
func (f StationsFile) Append(stations []climate.Station) (int, error) {
	existing, err := f.Read()
	if err != nil {
		return 0, err
	}
	known := make(map[climate.StationID]struct{}, len(existing))
	for _, st := range existing {
		known[st.ID] = struct{}{}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = Delimiter

	if info, statErr := os.Stat(f.Path); statErr != nil || info.Size() == 0 {
		if err := w.Write(stationsHeader); err != nil {
			return 0, err
		}
	}

	added := 0
	for _, st := range stations {
		if _, ok := known[st.ID]; ok || st.ID == "" {
			continue
		}
		known[st.ID] = struct{}{}
		row := []string{
			st.ID.String(),
			strconv.FormatFloat(st.Longitude, 'f', -1, 64),
			strconv.FormatFloat(st.Latitude, 'f', -1, 64),
			strconv.FormatFloat(st.Altitude, 'f', -1, 64),
			st.Name,
			st.Commune,
			st.PostalCode,
		}
		if err := w.Write(row); err != nil {
			return 0, err
		}
		added++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}
	if buf.Len() == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return 0, fmt.Errorf("create parent for %s: %w", f.Path, err)
	}
	out, err := os.OpenFile(f.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.Path, err)
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		_ = out.Close()
		return 0, fmt.Errorf("append to %s: %w", f.Path, err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", f.Path, err)
	}
	return added, nil
}
