package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/i474232898/meteo-histo/internal/climate"
)

const (
	stationLockDirName   = ".lock"
	stationLockOwnerFile = "owner.json"
)

// StationLock serialises pipeline runs against one station directory.
type StationLock struct {
	lockDir string
}

type stationLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireStationLock takes the station's lock directory or fails if another
// run holds it. A lock left by a process of this host that has since died is
// reclaimed.
func (l Layout) AcquireStationLock(station climate.StationID) (StationLock, error) {
	if strings.TrimSpace(station.String()) == "" {
		return StationLock{}, fmt.Errorf("station is required")
	}

	dir := l.StationDir(station)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return StationLock{}, fmt.Errorf("create station directory %s: %w", dir, err)
	}

	lockDir := filepath.Join(dir, stationLockDirName)
	err := os.Mkdir(lockDir, 0o755)
	if os.IsExist(err) && reclaimStaleLock(lockDir) {
		err = os.Mkdir(lockDir, 0o755)
	}
	if err != nil {
		if os.IsExist(err) {
			if owner, ok := readLockOwner(lockDir); ok {
				return StationLock{}, fmt.Errorf(
					"station %s is locked (pid=%d created_at=%s host=%s)",
					station, owner.PID, owner.CreatedAt, owner.Hostname,
				)
			}
			return StationLock{}, fmt.Errorf("station %s is locked; remove %s if no run is active", station, lockDir)
		}
		return StationLock{}, fmt.Errorf("acquire lock for %s: %w", station, err)
	}

	owner := stationLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	data, _ := json.Marshal(owner)
	if err := writeFileAtomic(filepath.Join(lockDir, stationLockOwnerFile), data); err != nil {
		_ = os.Remove(lockDir)
		return StationLock{}, fmt.Errorf("write lock owner for %s: %w", station, err)
	}
	return StationLock{lockDir: lockDir}, nil
}

func (l StationLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, stationLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.lockDir, err)
	}
	return nil
}

func readLockOwner(lockDir string) (stationLockOwner, bool) {
	var owner stationLockOwner
	data, err := os.ReadFile(filepath.Join(lockDir, stationLockOwnerFile))
	if err != nil || json.Unmarshal(data, &owner) != nil || owner.PID <= 0 {
		return stationLockOwner{}, false
	}
	return owner, true
}

// reclaimStaleLock removes a lock whose owner ran on this host and is no
// longer alive. Locks from other hosts are left alone.
func reclaimStaleLock(lockDir string) bool {
	owner, ok := readLockOwner(lockDir)
	if !ok || owner.Hostname != hostnameOrUnknown() || processAlive(owner.PID) {
		return false
	}
	return os.RemoveAll(lockDir) == nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}
