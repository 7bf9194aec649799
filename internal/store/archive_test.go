package store

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/logger"
)

const station climate.StationID = "59343001"

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func request(from, to string) climate.DownloadRequest {
	return climate.DownloadRequest{Station: station, Start: day(from), End: day(to)}
}

func newStore(t *testing.T) *ArchiveStore {
	t.Helper()
	return NewArchiveStore(t.TempDir(), logger.Discard())
}

func writeChunk(t *testing.T, s *ArchiveStore, from, to, content string) string {
	t.Helper()
	path, written, err := s.WriteChunk(request(from, to), []byte(content))
	if err != nil || !written {
		t.Fatalf("write chunk %s..%s: written=%v err=%v", from, to, written, err)
	}
	return path
}

func dates(a climate.StationArchive) []string {
	out := make([]string, len(a.Records))
	for i, r := range a.Records {
		out[i] = r.Date.Format(climate.DateLayout)
	}
	return out
}

func TestAssembleConcatenatesChunks(t *testing.T) {
	s := newStore(t)
	writeChunk(t, s, "2024-01-01", "2024-01-03",
		"POSTE;DATE;RR\n59343001;20240101;0\n59343001;20240102;1.2\n59343001;20240103;0.4\n")
	writeChunk(t, s, "2024-01-03", "2024-01-05",
		"POSTE;DATE;RR\n59343001;20240103;0.4\n59343001;20240104;0\n")
	writeChunk(t, s, "2024-01-05", "2024-01-06", "")

	// not a chunk name: ignored
	if err := os.WriteFile(filepath.Join(s.Layout().StationDir(station), "notes.csv"), []byte("x;y\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	archive, err := s.Assemble(station)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	got := strings.Join(dates(archive), ",")
	if got != "20240101,20240102,20240103,20240103,20240104" {
		t.Errorf("dates = %s", got)
	}
	if strings.Join(archive.Header, ";") != "POSTE;DATE;RR" {
		t.Errorf("header = %v", archive.Header)
	}

	raw, _ := os.ReadFile(s.Layout().ArchivePath(station))
	if n := strings.Count(string(raw), "POSTE;DATE"); n != 1 {
		t.Errorf("archive has %d header lines, want 1", n)
	}
	if dups := climate.FindDuplicates(archive.Records); len(dups) != 1 {
		t.Errorf("expected the boundary duplicate to be kept, got %v", dups)
	}
}

func TestAssembleWithoutChunks(t *testing.T) {
	s := newStore(t)
	if _, err := s.Assemble(station); !errors.Is(err, climate.ErrNoChunksFound) {
		t.Fatalf("expected ErrNoChunksFound, got %v", err)
	}
}

func TestWriteChunkNeverOverwrites(t *testing.T) {
	s := newStore(t)
	req := request("2024-01-01", "2024-02-01")

	path, written, err := s.WriteChunk(req, []byte("first"))
	if err != nil || !written {
		t.Fatalf("first write: %v %v", written, err)
	}
	_, written, err = s.WriteChunk(req, []byte("second"))
	if err != nil || written {
		t.Fatalf("second write: written=%v err=%v", written, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "first" {
		t.Errorf("chunk overwritten: %q", data)
	}

	payload, readPath, err := s.ReadChunk(req)
	if err != nil || readPath != path || string(payload) != "first" {
		t.Errorf("ReadChunk = %q, %s, %v", payload, readPath, err)
	}
}

func TestMergeIncrementalSortsAndNormalises(t *testing.T) {
	s := newStore(t)
	writeChunk(t, s, "2024-01-01", "2024-01-05",
		"POSTE;DATE;RR\n59343001;20240101;0\n59343001;20240102;1\n59343001;20240104;3\n")
	if _, err := s.Assemble(station); err != nil {
		t.Fatal(err)
	}

	repair := writeChunk(t, s, "2024-01-03", "2024-01-04",
		"POSTE;DATE;RR\n59343001;2024-01-03;2\n;;\n59343001;garbage;9\n")

	archive, err := s.MergeIncremental(station, []string{repair})
	if err != nil {
		t.Fatalf("MergeIncremental: %v", err)
	}
	if got := strings.Join(dates(archive), ","); got != "20240101,20240102,20240103,20240104" {
		t.Errorf("dates = %s", got)
	}

	reloaded, err := s.Load(station)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Records) != 4 || reloaded.Records[2].Values[0] != "2" {
		t.Errorf("reloaded = %+v", reloaded.Records)
	}
	raw, _ := os.ReadFile(s.Layout().ArchivePath(station))
	if !strings.Contains(string(raw), "59343001;20240103;2") {
		t.Errorf("date not written in canonical form:\n%s", raw)
	}
}

func TestMergeIncrementalIntoMissingArchive(t *testing.T) {
	s := newStore(t)
	chunk := writeChunk(t, s, "2024-03-01", "2024-03-02", "POSTE;DATE;TX\n59343001;20240301;12.5\n")

	archive, err := s.MergeIncremental(station, []string{chunk})
	if err != nil {
		t.Fatalf("MergeIncremental: %v", err)
	}
	if len(archive.Records) != 1 || strings.Join(archive.Header, ";") != "POSTE;DATE;TX" {
		t.Errorf("archive = %+v", archive)
	}
}

func TestLoadMissingArchive(t *testing.T) {
	s := newStore(t)
	if _, err := s.Load(station); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteChunks(t *testing.T) {
	s := newStore(t)
	writeChunk(t, s, "2024-01-01", "2024-01-02", "POSTE;DATE\n59343001;20240101\n")

	if _, err := s.DeleteChunks(station); !errors.Is(err, ErrNotFound) {
		t.Fatalf("chunks deleted before an archive exists: %v", err)
	}
	if _, err := s.Assemble(station); err != nil {
		t.Fatal(err)
	}
	n, err := s.DeleteChunks(station)
	if err != nil || n != 1 {
		t.Fatalf("DeleteChunks = %d, %v", n, err)
	}
	chunks, _ := s.Layout().ListChunks(station)
	if len(chunks) != 0 {
		t.Errorf("chunks left: %v", chunks)
	}
	if _, err := s.Load(station); err != nil {
		t.Errorf("archive lost: %v", err)
	}
}

func TestAggregateStations(t *testing.T) {
	s := newStore(t)
	for _, st := range []climate.StationID{"59343001", "75114001"} {
		archive := climate.StationArchive{
			Station: st,
			Header:  []string{"POSTE", "DATE", "RR"},
			Records: []climate.Record{{Station: st, Date: day("2024-01-01"), Values: []string{"0"}}},
		}
		if err := s.Save(archive); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.AggregateStations("")
	if err != nil || n != 2 {
		t.Fatalf("AggregateStations = %d, %v", n, err)
	}
	raw, _ := os.ReadFile(s.Layout().AggregatePath())
	want := "POSTE;DATE;RR\n59343001;20240101;0\n75114001;20240101;0\n"
	if string(raw) != want {
		t.Errorf("aggregate =\n%s\nwant\n%s", raw, want)
	}

	gz := filepath.Join(t.TempDir(), "all.csv.gz")
	if _, err := s.AggregateStations(gz); err != nil {
		t.Fatalf("AggregateStations gz: %v", err)
	}
	f, err := os.Open(gz)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatalf("not gzip: %v", err)
	}
	plain, _ := io.ReadAll(zr)
	if string(plain) != want {
		t.Errorf("decompressed aggregate = %q", plain)
	}
}

func TestGapsRoundTrip(t *testing.T) {
	s := newStore(t)
	gaps := []time.Time{day("2024-02-10"), day("2024-01-05")}

	if err := s.SaveGaps(station, gaps); err != nil {
		t.Fatalf("SaveGaps: %v", err)
	}
	loaded, err := s.LoadGaps(station)
	if err != nil || len(loaded) != 2 || !loaded[0].Equal(day("2024-01-05")) {
		t.Fatalf("LoadGaps = %v, %v", loaded, err)
	}

	if err := s.SaveGaps(station, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.Layout().GapsPath(station)); !os.IsNotExist(err) {
		t.Errorf("empty gap list should remove the file")
	}
}
