package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/store"
)

var validate = validator.New()

// Archives serves station archives, usually through store.ArchiveCache.
type Archives interface {
	Get(station climate.StationID) (climate.StationArchive, error)
	GetRange(station climate.StationID, from, to time.Time) (climate.StationArchive, error)
}

// Catalog lists the stations that have an archive on disk.
type Catalog interface {
	ListStations() ([]climate.StationID, error)
}

// Registry holds harvested station metadata.
type Registry interface {
	Read() ([]climate.Station, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, archives Archives, catalog Catalog, registry Registry) {
	v1 := app.Group("/api/v1")

	v1.Get("/stations", func(c *fiber.Ctx) error {
		ids, err := catalog.ListStations()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list stations")
		}

		meta := map[climate.StationID]climate.Station{}
		if registry != nil {
			known, err := registry.Read()
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "failed to read station metadata")
			}
			for _, st := range known {
				meta[st.ID] = st
			}
		}

		stations := make([]climate.Station, 0, len(ids))
		for _, id := range ids {
			st, ok := meta[id]
			if !ok {
				st = climate.Station{ID: id}
			}
			stations = append(stations, st)
		}
		return c.JSON(fiber.Map{"stations": stations})
	})

	v1.Get("/stations/:id/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		archive, err := archives.GetRange(req.Station, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
		}

		return c.JSON(fiber.Map{
			"station": archive.Station,
			"from":    formatBound(req.From),
			"to":      formatBound(req.To),
			"count":   len(archive.Records),
			"records": toRecords(archive),
		})
	})

	v1.Get("/stations/:id/quality", func(c *fiber.Ctx) error {
		station, err := parseStation(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		archive, err := archives.Get(station)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no archive for requested station")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load archive")
		}

		report := climate.Verify(archive)
		first, last, _ := archive.Span()
		return c.JSON(fiber.Map{
			"station":    station,
			"clean":      report.Clean(),
			"rows":       len(archive.Records),
			"first":      formatBound(first),
			"last":       formatBound(last),
			"duplicates": formatDays(report.Duplicates),
			"missing":    formatDays(report.Missing),
		})
	})
}

type record struct {
	Date   string            `json:"date"`
	Values map[string]string `json:"values"`
}

// toRecords keys each row's values by the archive header columns that follow
// the station and date columns.
func toRecords(a climate.StationArchive) []record {
	out := make([]record, 0, len(a.Records))
	for _, r := range a.Records {
		values := make(map[string]string, len(r.Values))
		for i, v := range r.Values {
			name := fmt.Sprintf("col%d", i+2)
			if i+2 < len(a.Header) {
				name = a.Header[i+2]
			}
			values[name] = v
		}
		out = append(out, record{Date: r.Date.Format(time.DateOnly), Values: values})
	}
	return out
}

func parseStation(c *fiber.Ctx) (climate.StationID, error) {
	id := c.Params("id")
	if err := validate.Var(id, "required,numeric,len=8"); err != nil {
		return "", fmt.Errorf("invalid station id %q: expected 8 digits", id)
	}
	return climate.StationID(id), nil
}

// historyQuery holds parameters for the history endpoint. Both bounds are
// optional and inclusive.
type historyQuery struct {
	Station climate.StationID
	From    time.Time
	To      time.Time
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	station, err := parseStation(c)
	if err != nil {
		return err
	}
	h.Station = station

	if h.From, err = parseDay(c.Query("from")); err != nil {
		return err
	}
	if h.To, err = parseDay(c.Query("to")); err != nil {
		return err
	}
	if !h.From.IsZero() && !h.To.IsZero() && h.To.Before(h.From) {
		return errors.New("to must not be before from")
	}
	return nil
}

// parseDay accepts any date format the archive itself accepts; empty is an
// open bound.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, ok := store.ParseDate(s)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid date %q; use YYYY-MM-DD or YYYYMMDD", s)
	}
	return t, nil
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func formatDays(days []time.Time) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.Format(time.DateOnly)
	}
	return out
}
