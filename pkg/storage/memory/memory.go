package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// Storage keeps corridor samples in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	series map[traffic.CorridorID][]traffic.Sample
	closed bool
	mu     sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		series: make(map[traffic.CorridorID][]traffic.Sample),
	}
}

// Write appends samples to the corridor's history
func (s *Storage) Write(ctx context.Context, corridor traffic.CorridorID, samples []traffic.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	merged := append(s.series[corridor], samples...)
	traffic.SortSamples(merged)
	s.series[corridor] = dedupe(merged)
	return nil
}

// Query retrieves a corridor's samples matching the request
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]traffic.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	var results []traffic.Sample
	for _, sample := range s.series[req.Corridor] {
		if req.Matches(sample.Timestamp) {
			results = append(results, sample)
		}
	}

	return storage.Newest(results, req.Limit), nil
}

// Delete removes samples older than the given time
func (s *Storage) Delete(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	for corridor, samples := range s.series {
		filtered := make([]traffic.Sample, 0, len(samples))
		for _, sample := range samples {
			if !sample.Timestamp.Before(before) {
				filtered = append(filtered, sample)
			}
		}
		if len(filtered) == 0 {
			delete(s.series, corridor)
			continue
		}
		s.series[corridor] = filtered
	}
	return nil
}

// Close drops every sample. Later calls return storage.ErrClosed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.series = nil
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	stats := &storage.Stats{
		Backend:        "memory",
		TotalCorridors: uint64(len(s.series)),
	}
	for _, samples := range s.series {
		stats.TotalSamples += uint64(len(samples))
		for _, sample := range samples {
			stats.Observe(sample.Timestamp)
		}
	}

	// Rough size estimate (each sample ~64 bytes)
	stats.SizeBytes = stats.TotalSamples * 64

	return stats, nil
}

// dedupe drops repeated (timestamp, camera) pairs from sorted samples, keeping the last write.
func dedupe(samples []traffic.Sample) []traffic.Sample {
	out := samples[:0]
	for _, sample := range samples {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(sample.Timestamp) && out[n-1].CameraID == sample.CameraID {
			out[n-1] = sample
			continue
		}
		out = append(out, sample)
	}
	return out
}
