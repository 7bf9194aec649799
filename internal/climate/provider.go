package climate

import (
	"context"
)

// Downloader retrieves the chunk for one request. Implementations never return
// a nil outcome: failures are reported as Failed.
type Downloader interface {
	Download(ctx context.Context, req DownloadRequest) DownloadOutcome
}

// ChunkStore persists downloaded chunks. WriteChunk must never replace an
// existing chunk; written reports whether the payload was stored.
type ChunkStore interface {
	ReadChunk(req DownloadRequest) (payload []byte, path string, err error)
	WriteChunk(req DownloadRequest, payload []byte) (path string, written bool, err error)
}

// StationSource abstracts the upstream station metadata endpoints.
type StationSource interface {
	StationInfo(ctx context.Context, id StationID) (Station, error)
	ListStations(ctx context.Context, departement int) ([]Station, error)
}

// Station is the metadata kept for a climatological station. Position is the
// most recent one published upstream.
type Station struct {
	ID         StationID `json:"id"`
	Name       string    `json:"name"`
	LieuDit    string    `json:"lieuDit,omitempty"`
	Bassin     string    `json:"bassin,omitempty"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Open       bool      `json:"open"`
	Commune    string    `json:"commune,omitempty"`
	PostalCode string    `json:"postalCode,omitempty"`
}

// FrenchDepartements lists the department numbers covered by the station listing.
var FrenchDepartements = func() []int {
	deps := make([]int, 0, 104)
	for d := 1; d <= 95; d++ {
		deps = append(deps, d)
	}
	return append(deps, 971, 972, 973, 974, 975, 984, 986, 987, 988)
}()
