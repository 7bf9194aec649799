package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/logger"
	"github.com/i474232898/meteo-histo/internal/store"
)

func day(s string) time.Time {
	t, _ := time.Parse(time.DateOnly, s)
	return t
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	archives := store.NewArchiveStore(t.TempDir(), logger.Discard())
	archive := climate.StationArchive{
		Station: "59343001",
		Header:  []string{"POSTE", "DATE", "RR", "TN", "TX"},
		Records: []climate.Record{
			{Station: "59343001", Date: day("2024-08-01"), Values: []string{"0", "14.2", "24.8"}},
			{Station: "59343001", Date: day("2024-08-02"), Values: []string{"1.4", "15.0", "22.1"}},
			{Station: "59343001", Date: day("2024-08-02"), Values: []string{"1.4", "15.0", "22.1"}},
			{Station: "59343001", Date: day("2024-08-04"), Values: []string{"0", "13.9", "26.3"}},
		},
	}
	if err := archives.Save(archive); err != nil {
		t.Fatalf("save archive: %v", err)
	}

	registry := store.StationsFile{Path: t.TempDir() + "/stations.csv"}
	if _, err := registry.Append([]climate.Station{{ID: "59343001", Name: "LILLE-LESQUIN", Latitude: 50.57, Longitude: 3.0975, Altitude: 47}}); err != nil {
		t.Fatalf("append station: %v", err)
	}

	app := fiber.New()
	cache := store.NewArchiveCache(archives, 8, time.Minute)
	RegisterRoutes(app, cache, archives.Layout(), registry)
	return app
}

func get(t *testing.T, app *fiber.App, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, url, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	var payload map[string]any
	_ = json.Unmarshal(body, &payload)
	return resp, payload
}

func TestStationsList(t *testing.T) {
	app := newTestApp(t)

	resp, payload := get(t, app, "/api/v1/stations")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	stations, _ := payload["stations"].([]any)
	if len(stations) != 1 {
		t.Fatalf("expected 1 station, got %v", payload["stations"])
	}
	st := stations[0].(map[string]any)
	if st["id"] != "59343001" || st["name"] != "LILLE-LESQUIN" {
		t.Errorf("unexpected station %v", st)
	}
}

func TestHistoryRange(t *testing.T) {
	app := newTestApp(t)

	resp, payload := get(t, app, "/api/v1/stations/59343001/history?from=2024-08-02&to=20240804")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if payload["count"] != float64(3) {
		t.Errorf("expected 3 records, got %v", payload["count"])
	}
	records := payload["records"].([]any)
	first := records[0].(map[string]any)
	if first["date"] != "2024-08-02" {
		t.Errorf("first date = %v", first["date"])
	}
	if first["values"].(map[string]any)["TX"] != "22.1" {
		t.Errorf("values not keyed by header: %v", first["values"])
	}
}

func TestHistoryValidation(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"bad station", "/api/v1/stations/lille/history", http.StatusBadRequest},
		{"bad date", "/api/v1/stations/59343001/history?from=yesterday", http.StatusBadRequest},
		{"reversed range", "/api/v1/stations/59343001/history?from=2024-08-04&to=2024-08-01", http.StatusBadRequest},
		{"empty range", "/api/v1/stations/59343001/history?from=2020-01-01&to=2020-01-31", http.StatusNotFound},
		{"unknown station", "/api/v1/stations/75114001/history", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := get(t, app, tt.url)
			if resp.StatusCode != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestQualityReport(t *testing.T) {
	app := newTestApp(t)

	resp, payload := get(t, app, "/api/v1/stations/59343001/quality")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if payload["clean"] != false {
		t.Errorf("expected an unclean archive")
	}
	dups := payload["duplicates"].([]any)
	missing := payload["missing"].([]any)
	if len(dups) != 1 || dups[0] != "2024-08-02" {
		t.Errorf("duplicates = %v", dups)
	}
	if len(missing) != 1 || missing[0] != "2024-08-03" {
		t.Errorf("missing = %v", missing)
	}
	if payload["first"] != "2024-08-01" || payload["last"] != "2024-08-04" {
		t.Errorf("span = %v..%v", payload["first"], payload["last"])
	}
}
