// Package window keeps the bounded, ordered per-corridor sample windows that
// every derived view is computed from.
//
// The in-memory windows are authoritative. Each accepted append is written
// through to a storage.Storage mirror outside the window lock; mirror faults are
// logged and counted but never undo an append.
package window

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/directory"
	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/telemetry"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

var (
	// ErrUnknownCorridor is returned when appending to the Unknown corridor or an empty id
	ErrUnknownCorridor = errors.New("cannot append to an unknown corridor")
)

// restoreConcurrency bounds parallel mirror reads at startup
const restoreConcurrency = 4

// Config configures a Store.
type Config struct {
	// Size is the maximum window length K (0 = config.DefaultWindowSize)
	Size int

	// Mirror receives every accepted window (nil = no mirror)
	Mirror storage.Storage

	// MirrorTimeout bounds a single mirror call (0 = config.StoreTimeout)
	MirrorTimeout time.Duration
}

// Store holds the latest K samples for each corridor.
type Store struct {
	mu       sync.RWMutex
	windows  map[traffic.CorridorID][]traffic.Sample
	versions map[traffic.CorridorID]uint64

	size    int
	mirror  storage.Storage
	timeout time.Duration

	// mirrorMu serializes mirror writes; mirrored tracks the newest version written per corridor
	mirrorMu sync.Mutex
	mirrored map[traffic.CorridorID]uint64
}

// New creates a Store.
func New(cfg Config) *Store {
	if cfg.Size <= 0 {
		cfg.Size = config.DefaultWindowSize
	}
	if cfg.Size > config.MaxWindowSize {
		cfg.Size = config.MaxWindowSize
	}
	if cfg.MirrorTimeout <= 0 {
		cfg.MirrorTimeout = config.StoreTimeout
	}
	return &Store{
		windows:  make(map[traffic.CorridorID][]traffic.Sample),
		versions: make(map[traffic.CorridorID]uint64),
		size:     cfg.Size,
		mirror:   cfg.Mirror,
		timeout:  cfg.MirrorTimeout,
		mirrored: make(map[traffic.CorridorID]uint64),
	}
}

// Size returns the window bound K.
func (s *Store) Size() int {
	return s.size
}

// Append merges samples into the corridor window in timestamp order and keeps
// the latest K. The new window is then written through to the mirror.
// It returns an error only for invalid input; mirror faults are logged.
func (s *Store) Append(ctx context.Context, corridor traffic.CorridorID, samples []traffic.Sample) error {
	if corridor == "" || corridor == directory.UnknownCorridor {
		return fmt.Errorf("%w: %q", ErrUnknownCorridor, corridor)
	}
	if err := traffic.ValidateSamples(samples); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	current := s.windows[corridor]
	merged := make([]traffic.Sample, 0, len(current)+len(samples))
	merged = append(merged, current...)
	merged = append(merged, samples...)
	traffic.SortSamples(merged)
	next := traffic.LastN(merged, s.size)
	s.windows[corridor] = next
	s.versions[corridor]++
	version := s.versions[corridor]
	s.mu.Unlock()

	telemetry.SamplesAppended.Add(float64(len(samples)))

	// next is never mutated after publication, so the mirror can read it without the lock
	s.writeMirror(ctx, corridor, version, next)
	return nil
}

// writeMirror writes one window version. A version older than the last one written is skipped.
func (s *Store) writeMirror(ctx context.Context, corridor traffic.CorridorID, version uint64, samples []traffic.Sample) {
	if s.mirror == nil {
		return
	}

	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	if s.mirrored[corridor] >= version {
		return
	}

	// Detach from the caller's cancellation so an accepted window still reaches the mirror
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	err := s.mirror.Write(writeCtx, corridor, samples)
	telemetry.MirrorWriteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.MirrorFailures.Inc()
		log.Printf("Mirror write failed for %s (window kept in memory): %v", corridor, err)
		return
	}

	telemetry.MirrorWrites.Inc()
	s.mirrored[corridor] = version
}

// LatestWindow returns a copy of the corridor's current window.
// The window is Empty when nothing has been appended yet.
func (s *Store) LatestWindow(corridor traffic.CorridorID) traffic.Window {
	return s.Tail(corridor, s.size)
}

// Tail returns a copy of at most n of the corridor's latest samples.
func (s *Store) Tail(corridor traffic.CorridorID, n int) traffic.Window {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return traffic.Window{
		Corridor: corridor,
		Samples:  traffic.LastN(s.windows[corridor], n),
	}
}

// Corridors returns the corridors that hold at least one sample, sorted.
func (s *Store) Corridors() []traffic.CorridorID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]traffic.CorridorID, 0, len(s.windows))
	for id, samples := range s.windows {
		if len(samples) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Restore hydrates windows from the mirror. Corridors that already hold data
// are left alone, and an unreadable mirror leaves the corridor empty.
func (s *Store) Restore(ctx context.Context, corridors []traffic.CorridorID) int {
	if s.mirror == nil {
		return 0
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		restored int
	)
	g.SetLimit(restoreConcurrency)

	for _, corridor := range corridors {
		g.Go(func() error {
			readCtx, cancel := context.WithTimeout(ctx, config.StoreRestoreTimeout)
			defer cancel()

			samples, err := s.mirror.Query(readCtx, storage.QueryRequest{Corridor: corridor, Limit: s.size})
			if err != nil {
				telemetry.MirrorFailures.Inc()
				log.Printf("Mirror read failed for %s, starting empty: %v", corridor, err)
				return nil
			}
			if s.seed(corridor, samples) {
				mu.Lock()
				restored++
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return restored
}

// seed installs restored samples when the corridor is still empty.
func (s *Store) seed(corridor traffic.CorridorID, samples []traffic.Sample) bool {
	valid := make([]traffic.Sample, 0, len(samples))
	for _, sample := range samples {
		if traffic.ValidateSample(sample) == nil {
			valid = append(valid, sample)
		}
	}
	if len(valid) == 0 {
		return false
	}
	traffic.SortSamples(valid)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.windows[corridor]) > 0 {
		return false
	}
	s.windows[corridor] = traffic.LastN(valid, s.size)
	return true
}
