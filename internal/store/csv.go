package store

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/i474232898/meteo-histo/internal/climate"
)

// Delimiter is the field separator of every CSV file handled here.
const Delimiter = ';'

// defaultHeader is used when an archive is written before any chunk supplied one.
var defaultHeader = []string{"POSTE", "DATE"}

// dateLayouts are the date representations accepted on input. The first one is
// the canonical form written back.
var dateLayouts = []string{
	climate.DateLayout,
	time.DateOnly,
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
	"02/01/2006",
	"200601021504",
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// readTable parses a delimited file into its header row and data rows.
func readTable(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	rows, err := newCSVReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	header := rows[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header, rows[1:], nil
}

// ParseDate reads a date column value in any accepted representation and
// returns its UTC calendar day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return climate.Day(t), true
		}
	}
	return time.Time{}, false
}

// FormatDate renders a day in the canonical archive representation.
func FormatDate(t time.Time) string {
	return t.UTC().Format(climate.DateLayout)
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// recordFromRow maps a data row to a Record. Rows that are blank or lack a
// parseable date are rejected.
func recordFromRow(station climate.StationID, row []string) (climate.Record, bool) {
	if len(row) < 2 || isBlankRow(row) {
		return climate.Record{}, false
	}
	date, ok := ParseDate(row[1])
	if !ok {
		return climate.Record{}, false
	}
	id := climate.StationID(strings.TrimSpace(row[0]))
	if id == "" {
		id = station
	}
	values := make([]string, len(row)-2)
	copy(values, row[2:])
	return climate.Record{Station: id, Date: date, Values: values}, true
}

func encodeArchive(a climate.StationArchive) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = Delimiter

	header := a.Header
	if len(header) == 0 {
		header = defaultHeader
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	row := make([]string, 0, len(header))
	for _, r := range a.Records {
		row = append(row[:0], r.Station.String(), FormatDate(r.Date))
		row = append(row, r.Values...)
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// splitHeader separates the first line of a raw CSV file from the rest.
func splitHeader(data []byte) (header, body []byte) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return data, nil
	}
	return data[:i+1], data[i+1:]
}
