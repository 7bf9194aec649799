// Package geocode resolves station coordinates to a commune and postal code
// through the Google reverse geocoding API.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"
)

var ErrNoAddress = errors.New("no address for coordinates")

// the geocoder library keeps its key in a package variable
var keyMu sync.Mutex

// ReverseFunc performs one reverse lookup.
type ReverseFunc func(geocoder.Location) ([]geocoder.Address, error)

// Resolver looks up communes for harvested stations.
type Resolver struct {
	reverse ReverseFunc
}

// New creates a Resolver authenticated with apiKey.
func New(apiKey string) (*Resolver, error) {
	if apiKey == "" {
		return nil, errors.New("geocoder api key is required")
	}
	keyMu.Lock()
	geocoder.ApiKey = apiKey
	keyMu.Unlock()
	return &Resolver{reverse: geocoder.GeocodingReverse}, nil
}

// NewWithReverse creates a Resolver over a custom lookup, mostly for tests.
func NewWithReverse(fn ReverseFunc) *Resolver {
	return &Resolver{reverse: fn}
}

// Locate returns the commune and postal code of the first address found at
// the given coordinates.
func (r *Resolver) Locate(ctx context.Context, lat, lon float64) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	addresses, err := r.reverse(geocoder.Location{Latitude: lat, Longitude: lon})
	if err != nil {
		return "", "", fmt.Errorf("reverse geocode %.5f,%.5f: %w", lat, lon, err)
	}
	for _, a := range addresses {
		if a.City != "" {
			return a.City, a.PostalCode, nil
		}
	}
	return "", "", fmt.Errorf("%w: %.5f,%.5f", ErrNoAddress, lat, lon)
}
