package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/i474232898/meteo-histo/internal/climate"
)

// ArchiveLoader reads a station archive from persistent storage.
type ArchiveLoader interface {
	Load(station climate.StationID) (climate.StationArchive, error)
}

type cachedArchive struct {
	archive  climate.StationArchive
	loadedAt time.Time
}

// ArchiveCache is a concurrency-safe in-memory cache of station archives used
// by the read API.
type ArchiveCache struct {
	mu sync.RWMutex

	// key: station id
	data   map[climate.StationID]*cachedArchive
	loader ArchiveLoader

	// retention configuration
	maxEntries int           // max number of cached stations
	maxAge     time.Duration // reload archives older than this
	now        func() time.Time
}

// NewArchiveCache creates a new cache with optional limits.
// If maxEntries or maxAge is <= 0, it is treated as unlimited.
func NewArchiveCache(loader ArchiveLoader, maxEntries int, maxAge time.Duration) *ArchiveCache {
	return &ArchiveCache{
		data:       make(map[climate.StationID]*cachedArchive),
		loader:     loader,
		maxEntries: maxEntries,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Get returns the cached archive, loading it when absent or expired.
func (c *ArchiveCache) Get(station climate.StationID) (climate.StationArchive, error) {
	c.mu.RLock()
	entry, ok := c.data[station]
	fresh := ok && (c.maxAge <= 0 || c.now().Sub(entry.loadedAt) < c.maxAge)
	c.mu.RUnlock()
	if fresh {
		return entry.archive, nil
	}

	archive, err := c.loader.Load(station)
	if err != nil {
		return climate.StationArchive{}, err
	}
	c.Put(archive)
	return archive, nil
}

// Put stores an archive and enforces the entry limit by evicting the oldest.
func (c *ArchiveCache) Put(archive climate.StationArchive) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[archive.Station] = &cachedArchive{archive: archive, loadedAt: c.now()}

	for c.maxEntries > 0 && len(c.data) > c.maxEntries {
		var oldest climate.StationID
		var oldestAt time.Time
		for id, e := range c.data {
			if oldest == "" || e.loadedAt.Before(oldestAt) {
				oldest, oldestAt = id, e.loadedAt
			}
		}
		delete(c.data, oldest)
	}
}

// Invalidate drops a station so the next Get reloads it.
func (c *ArchiveCache) Invalidate(station climate.StationID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, station)
}

// GetRange returns the records of a station between from and to (inclusive).
// A zero bound is open.
func (c *ArchiveCache) GetRange(station climate.StationID, from, to time.Time) (climate.StationArchive, error) {
	archive, err := c.Get(station)
	if err != nil {
		return climate.StationArchive{}, err
	}

	result := climate.StationArchive{Station: archive.Station, Header: archive.Header}
	for _, r := range archive.Records {
		if !from.IsZero() && r.Date.Before(from) {
			continue
		}
		if !to.IsZero() && r.Date.After(to) {
			continue
		}
		result.Records = append(result.Records, r)
	}

	if len(result.Records) == 0 {
		return climate.StationArchive{}, fmt.Errorf("%w: %s has no records in range", ErrNotFound, station)
	}
	return result, nil
}
