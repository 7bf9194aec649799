package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/logger"
	"github.com/i474232898/meteo-histo/internal/store"
)

type fakeSource struct {
	byDep map[int][]climate.Station
	info  map[climate.StationID]climate.Station
}

func (f *fakeSource) ListStations(_ context.Context, dep int) ([]climate.Station, error) {
	list, ok := f.byDep[dep]
	if !ok {
		return nil, &climate.UpstreamError{Op: "list stations", Status: 404}
	}
	return list, nil
}

func (f *fakeSource) StationInfo(_ context.Context, id climate.StationID) (climate.Station, error) {
	st, ok := f.info[id]
	if !ok {
		return climate.Station{}, &climate.UpstreamError{Op: "station info", Status: 404}
	}
	return st, nil
}

type fakeGeocoder struct {
	calls int
}

func (g *fakeGeocoder) Locate(_ context.Context, lat, lon float64) (string, string, error) {
	g.calls++
	if lat == 0 && lon == 0 {
		return "", "", errors.New("no result")
	}
	return "Lesquin", "59810", nil
}

func TestHarvestDepartements(t *testing.T) {
	lille := climate.Station{ID: "59343001", Name: "LILLE-LESQUIN", Latitude: 50.57, Longitude: 3.0975}
	dunkerque := climate.Station{ID: "59183001", Name: "DUNKERQUE", Latitude: 51.05, Longitude: 2.33}
	arras := climate.Station{ID: "62041001", Name: "ARRAS"}
	src := &fakeSource{byDep: map[int][]climate.Station{
		59: {lille, dunkerque},
		62: {arras, lille},
	}}

	registry := store.StationsFile{Path: filepath.Join(t.TempDir(), "stations.csv")}
	if _, err := registry.Append([]climate.Station{dunkerque}); err != nil {
		t.Fatal(err)
	}

	geo := &fakeGeocoder{}
	svc := NewService(&fakeUpstream{}, store.NewArchiveStore(t.TempDir(), logger.Discard()), DefaultOptions(), logger.Discard(),
		WithStationSource(src, registry), WithGeocoder(geo))

	report, err := svc.HarvestDepartements(context.Background(), []int{59, 2, 62})
	if err != nil {
		t.Fatalf("HarvestDepartements: %v", err)
	}
	if report.Departements != 3 || report.Listed != 4 || report.Added != 2 {
		t.Errorf("report = %+v", report)
	}
	if _, ok := report.Failed[2]; !ok || len(report.Failed) != 1 {
		t.Errorf("failed = %v", report.Failed)
	}
	if geo.calls != 2 {
		t.Errorf("geocoder called %d times, want once per new station", geo.calls)
	}

	stations, err := registry.Read()
	if err != nil || len(stations) != 3 {
		t.Fatalf("registry = %v, %v", stations, err)
	}
	byID := map[climate.StationID]climate.Station{}
	for _, st := range stations {
		byID[st.ID] = st
	}
	if byID["59343001"].Commune != "Lesquin" || byID["59343001"].PostalCode != "59810" {
		t.Errorf("station not enriched: %+v", byID["59343001"])
	}
	if byID["62041001"].Commune != "" {
		t.Errorf("failed lookup should leave the station as is: %+v", byID["62041001"])
	}
}

func TestStationMetadata(t *testing.T) {
	lille := climate.Station{ID: "59343001", Name: "LILLE-LESQUIN", Latitude: 50.57, Longitude: 3.0975, Open: true}
	src := &fakeSource{info: map[climate.StationID]climate.Station{"59343001": lille}}
	registry := store.StationsFile{Path: filepath.Join(t.TempDir(), "stations.csv")}
	svc := NewService(&fakeUpstream{}, store.NewArchiveStore(t.TempDir(), logger.Discard()), DefaultOptions(), logger.Discard(),
		WithStationSource(src, registry))

	st, err := svc.StationMetadata(context.Background(), "59343001")
	if err != nil || st.Name != "LILLE-LESQUIN" {
		t.Fatalf("StationMetadata = %+v, %v", st, err)
	}
	if _, err := svc.StationMetadata(context.Background(), "00000000"); err == nil {
		t.Errorf("unknown station accepted")
	}
	if stations, _ := registry.Read(); len(stations) != 1 {
		t.Errorf("registry = %v", stations)
	}
}

func TestHarvestRequiresSource(t *testing.T) {
	svc := NewService(&fakeUpstream{}, store.NewArchiveStore(t.TempDir(), logger.Discard()), DefaultOptions(), logger.Discard())
	if _, err := svc.HarvestDepartements(context.Background(), []int{59}); err == nil {
		t.Fatal("expected an error without a station source")
	}
}
