package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/i474232898/meteo-histo/internal/climate"
)

func TestStationsFileAppendSkipsKnown(t *testing.T) {
	f := StationsFile{Path: filepath.Join(t.TempDir(), "data", "stations.csv")}

	stations, err := f.Read()
	if err != nil || len(stations) != 0 {
		t.Fatalf("missing file: %v, %v", stations, err)
	}

	lille := climate.Station{ID: "59343001", Name: "LILLE-LESQUIN", Latitude: 50.57, Longitude: 3.0975, Altitude: 47, Commune: "Lesquin", PostalCode: "59810"}
	added, err := f.Append([]climate.Station{lille})
	if err != nil || added != 1 {
		t.Fatalf("Append = %d, %v", added, err)
	}

	dunkerque := climate.Station{ID: "59183001", Name: "DUNKERQUE", Latitude: 51.0543, Longitude: 2.3383, Altitude: 11}
	added, err = f.Append([]climate.Station{lille, dunkerque, dunkerque})
	if err != nil || added != 1 {
		t.Fatalf("second Append = %d, %v", added, err)
	}

	raw, _ := os.ReadFile(f.Path)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("file has %d lines:\n%s", len(lines), raw)
	}
	if lines[0] != "id_station;longitude;latitude;altitude;nom;commune;code_postal" {
		t.Errorf("header = %q", lines[0])
	}

	stations, err = f.Read()
	if err != nil || len(stations) != 2 {
		t.Fatalf("Read = %v, %v", stations, err)
	}
	if stations[0] != lille {
		t.Errorf("round trip = %+v, want %+v", stations[0], lille)
	}
}

func TestLayoutChunkNames(t *testing.T) {
	name := ChunkName(day("2024-08-01"), day("2024-09-05"))
	if name != "from2024-08-01_to2024-09-05.csv" {
		t.Fatalf("ChunkName = %s", name)
	}
	start, end, ok := ParseChunkName(name)
	if !ok || !start.Equal(day("2024-08-01")) || !end.Equal(day("2024-09-05")) {
		t.Errorf("ParseChunkName = %v %v %v", start, end, ok)
	}
	for _, bad := range []string{"59343001_histo.csv", "from2024-08-01.csv", "from2024-13-01_to2024-14-01.csv"} {
		if _, _, ok := ParseChunkName(bad); ok {
			t.Errorf("ParseChunkName(%q) accepted", bad)
		}
	}
}

func TestLayoutListStations(t *testing.T) {
	s := newStore(t)
	if err := s.Save(climate.StationArchive{Station: "75114001"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(climate.StationArchive{Station: "59343001"}); err != nil {
		t.Fatal(err)
	}
	// a directory without an archive is not a station
	if err := os.MkdirAll(filepath.Join(s.Layout().Root, "13054001"), 0o755); err != nil {
		t.Fatal(err)
	}

	ids, err := s.Layout().ListStations()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "59343001" || ids[1] != "75114001" {
		t.Errorf("ListStations = %v", ids)
	}
}

func TestStationLock(t *testing.T) {
	layout := Layout{Root: t.TempDir()}

	lock, err := layout.AcquireStationLock(station)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := layout.AcquireStationLock(station); err == nil || !strings.Contains(err.Error(), "locked") {
		t.Fatalf("second acquire should fail, got %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := layout.AcquireStationLock(station)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	_ = again.Release()

	if _, err := layout.AcquireStationLock(""); err == nil {
		t.Errorf("empty station accepted")
	}
}

func TestStationLockReclaimsDeadOwner(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	lockDir := filepath.Join(layout.StationDir(station), stationLockDirName)

	writeOwner := func(owner stationLockOwner) {
		t.Helper()
		if err := os.MkdirAll(lockDir, 0o755); err != nil {
			t.Fatal(err)
		}
		data, _ := json.Marshal(owner)
		if err := os.WriteFile(filepath.Join(lockDir, stationLockOwnerFile), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	const deadPID = 1 << 30
	if processAlive(deadPID) {
		t.Skip("process liveness is not observable on this platform")
	}

	// crashed run on another host: cannot tell, stays locked
	writeOwner(stationLockOwner{PID: deadPID, CreatedAt: "2024-01-01T00:00:00Z", Hostname: "elsewhere.invalid"})
	if _, err := layout.AcquireStationLock(station); err == nil {
		t.Fatal("lock held by another host was taken")
	}

	// crashed run on this host
	writeOwner(stationLockOwner{PID: deadPID, CreatedAt: "2024-01-01T00:00:00Z", Hostname: hostnameOrUnknown()})
	lock, err := layout.AcquireStationLock(station)
	if err != nil {
		t.Fatalf("stale lock not reclaimed: %v", err)
	}
	owner, ok := readLockOwner(lockDir)
	if !ok || owner.PID != os.Getpid() {
		t.Errorf("owner = %+v, want this process", owner)
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}

	// live owner on this host keeps the lock
	writeOwner(stationLockOwner{PID: os.Getpid(), CreatedAt: "2024-01-01T00:00:00Z", Hostname: hostnameOrUnknown()})
	if _, err := layout.AcquireStationLock(station); err == nil {
		t.Fatal("lock of a live process was taken")
	}
}
