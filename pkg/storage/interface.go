package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// ErrClosed is returned by backends used after Close
var ErrClosed = errors.New("storage closed")

// Storage is the durable mirror behind the in-memory corridor windows.
// Implementations: memory (testing), csvfile (default), badger, sqlite, postgres
type Storage interface {
	// Write persists samples for one corridor
	Write(ctx context.Context, corridor traffic.CorridorID, samples []traffic.Sample) error

	// Query retrieves a corridor's samples, oldest first
	Query(ctx context.Context, req QueryRequest) ([]traffic.Sample, error)

	// Delete removes samples older than the given time
	Delete(ctx context.Context, before time.Time) error

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// QueryRequest specifies what samples to retrieve
type QueryRequest struct {
	Corridor traffic.CorridorID

	// Time range (zero values are unbounded)
	Start time.Time
	End   time.Time

	// Keep only the newest N samples (0 = no limit)
	Limit int
}

// Matches reports whether ts falls inside the request's time range.
func (r QueryRequest) Matches(ts time.Time) bool {
	if !r.Start.IsZero() && ts.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && ts.After(r.End) {
		return false
	}
	return true
}

// Stats provides storage health and usage info
type Stats struct {
	Backend string `json:"backend"`

	// Total samples stored
	TotalSamples uint64 `json:"total_samples"`

	// Corridors with at least one sample
	TotalCorridors uint64 `json:"total_corridors"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	OldestSample time.Time `json:"oldest_sample"`
	NewestSample time.Time `json:"newest_sample"`
}

// Observe folds one sample timestamp into the oldest/newest range.
func (s *Stats) Observe(ts time.Time) {
	if s.OldestSample.IsZero() || ts.Before(s.OldestSample) {
		s.OldestSample = ts
	}
	if s.NewestSample.IsZero() || ts.After(s.NewestSample) {
		s.NewestSample = ts
	}
}

// Newest trims samples (already oldest first) to the newest limit.
func Newest(samples []traffic.Sample, limit int) []traffic.Sample {
	if limit <= 0 || len(samples) <= limit {
		return samples
	}
	return samples[len(samples)-limit:]
}
