package climate

import "time"

// FindDuplicates returns every date that appears more than once, ascending.
func FindDuplicates(records []Record) []time.Time {
	counts := make(map[time.Time]int, len(records))
	var dups []time.Time
	for _, r := range records {
		d := Day(r.Date)
		counts[d]++
		if counts[d] == 2 {
			dups = append(dups, d)
		}
	}
	return uniqueDays(dups)
}

// FindMissing returns every calendar day absent from records within
// [min(date), max(date)]. The span comes from the data itself, so a short but
// gap-free history reports nothing.
func FindMissing(records []Record) []time.Time {
	if len(records) == 0 {
		return nil
	}

	present := make(map[time.Time]struct{}, len(records))
	first, last := Day(records[0].Date), Day(records[0].Date)
	for _, r := range records {
		d := Day(r.Date)
		present[d] = struct{}{}
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}

	var missing []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if _, ok := present[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

// Dedupe keeps the first record for each date, in file order, and returns the
// kept records with the number dropped.
func Dedupe(records []Record) ([]Record, int) {
	seen := make(map[time.Time]struct{}, len(records))
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		d := Day(r.Date)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		kept = append(kept, r)
	}
	return kept, len(records) - len(kept)
}

// Verify runs the duplicate and missing-date checks on an archive.
func Verify(archive StationArchive) QualityReport {
	return QualityReport{
		Station:    archive.Station,
		Duplicates: FindDuplicates(archive.Records),
		Missing:    FindMissing(archive.Records),
	}
}
