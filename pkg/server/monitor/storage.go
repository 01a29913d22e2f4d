package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrStorageLimitExceeded is returned by CheckLimit once the data dir reaches the limit
var ErrStorageLimitExceeded = errors.New("storage limit exceeded")

// StorageMonitor tracks mirror disk usage with caching to avoid expensive filesystem walks.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// StorageUsage is the JSON view served at /v1/storage.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
	Exceeded  bool  `json:"exceeded"`
}

// NewStorageMonitor creates a new storage monitor.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: 10 * time.Second,
	}
}

// GetUsage returns current disk usage in bytes, refreshed at most every 10 seconds.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// Usage returns usage against the limit. A missing data dir counts as zero usage.
func (sm *StorageMonitor) Usage() (StorageUsage, error) {
	used, err := sm.GetUsage()
	if errors.Is(err, os.ErrNotExist) {
		used, err = 0, nil
	}
	if err != nil {
		return StorageUsage{}, err
	}
	return StorageUsage{
		UsedBytes: used,
		MaxBytes:  sm.maxBytes,
		Exceeded:  sm.maxBytes > 0 && used >= sm.maxBytes,
	}, nil
}

// CheckLimit returns ErrStorageLimitExceeded when the mirror has reached its limit.
// A failed usage check does not block writes.
func (sm *StorageMonitor) CheckLimit() error {
	usage, err := sm.Usage()
	if err != nil {
		return nil
	}
	if usage.Exceeded {
		return fmt.Errorf("%w: %d of %d bytes used", ErrStorageLimitExceeded, usage.UsedBytes, usage.MaxBytes)
	}
	return nil
}

// calculateDirSize recursively calculates directory size in bytes.
func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			actualSize, err := getActualFileSize(filePath, info)
			if err != nil {
				size += info.Size()
			} else {
				size += actualSize
			}
		}
		return nil
	})
	return size, err
}

// getActualFileSize is implemented in platform-specific files:
// - filesize_unix.go (Linux/Mac): Uses syscall.Stat_t.Blocks
// - filesize_windows.go (Windows): Uses GetCompressedFileSizeW API
