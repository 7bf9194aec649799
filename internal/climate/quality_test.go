package climate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func records(days ...time.Time) []Record {
	out := make([]Record, len(days))
	for i, d := range days {
		out[i] = Record{Station: "59343001", Date: d, Values: []string{string(rune('a' + i))}}
	}
	return out
}

func TestFindDuplicates(t *testing.T) {
	recs := records(date(2024, 8, 1), date(2024, 8, 2), date(2024, 8, 2), date(2024, 8, 1), date(2024, 8, 2))
	dups := FindDuplicates(recs)
	if len(dups) != 2 || !dups[0].Equal(date(2024, 8, 1)) || !dups[1].Equal(date(2024, 8, 2)) {
		t.Fatalf("duplicates = %v", dups)
	}
}

func TestFindMissing(t *testing.T) {
	recs := records(date(2024, 8, 5), date(2024, 8, 1), date(2024, 8, 3))
	missing := FindMissing(recs)
	if len(missing) != 2 || !missing[0].Equal(date(2024, 8, 2)) || !missing[1].Equal(date(2024, 8, 4)) {
		t.Fatalf("missing = %v", missing)
	}

	if got := FindMissing(nil); len(got) != 0 {
		t.Errorf("empty archive reported missing %v", got)
	}
	if got := FindMissing(records(date(2024, 8, 1))); len(got) != 0 {
		t.Errorf("single-row archive reported missing %v", got)
	}
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	recs := records(date(2024, 8, 1), date(2024, 8, 2), date(2024, 8, 1), date(2024, 8, 3), date(2024, 8, 2))
	kept, dropped := Dedupe(recs)
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	if len(kept) != 3 {
		t.Fatalf("kept = %v", kept)
	}
	// stable: first occurrences in their original order
	for i, want := range []string{"a", "b", "d"} {
		if kept[i].Values[0] != want {
			t.Errorf("kept[%d] = %v, want value %s", i, kept[i], want)
		}
	}
	if len(FindDuplicates(kept)) != 0 {
		t.Errorf("duplicates left after Dedupe")
	}
}

func TestVerify(t *testing.T) {
	archive := StationArchive{Station: "59343001", Records: records(date(2024, 8, 1), date(2024, 8, 1), date(2024, 8, 3))}
	report := Verify(archive)
	if report.Clean() {
		t.Fatal("expected an unclean report")
	}
	if len(report.Duplicates) != 1 || len(report.Missing) != 1 {
		t.Errorf("report = %+v", report)
	}

	clean := Verify(StationArchive{Station: "59343001", Records: records(date(2024, 8, 1), date(2024, 8, 2))})
	if !clean.Clean() {
		t.Errorf("expected a clean report, got %+v", clean)
	}
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("connection reset by peer")
	var err error = &TransportError{Op: "submit", Attempts: 10, Err: cause}

	if !errors.Is(err, ErrTransportExhausted) || !errors.Is(err, cause) {
		t.Errorf("transport error does not match its sentinel and cause")
	}
	if !IsTransport(err) {
		t.Errorf("IsTransport = false")
	}

	up := &UpstreamError{Op: "fetch", Status: 500, Body: "boom"}
	if IsTransport(up) {
		t.Errorf("upstream error classified as transport")
	}
	if status, ok := UpstreamStatus(Failed{Err: up}); !ok || status != 500 {
		t.Errorf("UpstreamStatus = %d, %v", status, ok)
	}
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("SleepContext = %v, want context.Canceled", err)
	}
}
