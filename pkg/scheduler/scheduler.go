// Package scheduler drives snapshot derivation for the selected camera.
//
// Two kinds of trigger exist: a fixed-period tick and a selection change.
// Both funnel into Refresh, which shares one in-flight derivation per corridor
// and discards any result computed for a selection that has since changed.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/derive"
	"github.com/nicktill/corridorpulse/pkg/telemetry"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// ErrSuperseded is returned when a refresh finished after the selection changed
var ErrSuperseded = errors.New("selection changed during refresh")

// Deriver computes and publishes corridor snapshots.
type Deriver interface {
	Derive(ctx context.Context, corridor traffic.CorridorID, camera traffic.CameraID, now time.Time) (*derive.Snapshot, error)
	Invalidate(corridor traffic.CorridorID)
}

// Resolver maps a camera to its corridor.
type Resolver interface {
	ResolveCorridor(camera traffic.CameraID) traffic.CorridorID
}

// Publisher receives every snapshot the scheduler accepts.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, snap *derive.Snapshot) error
}

// Recorder tracks refresh-cycle health.
type Recorder interface {
	RecordSuccess()
	RecordFailure(err error)
}

// Config configures a Scheduler.
type Config struct {
	// Interval between ticks (0 = config.DefaultRefreshInterval)
	Interval time.Duration

	// Now returns the evaluation instant (nil = time.Now)
	Now func() time.Time

	// Monitor records refresh outcomes (optional)
	Monitor Recorder
}

// Selection is the camera currently being watched.
type Selection struct {
	Camera     traffic.CameraID   `json:"camera"`
	Corridor   traffic.CorridorID `json:"corridor"`
	Generation uint64             `json:"generation"`
}

// Scheduler owns the selected camera and its current snapshot.
type Scheduler struct {
	engine   Deriver
	resolver Resolver
	interval time.Duration
	now      func() time.Time
	monitor  Recorder

	flights singleflight.Group

	mu         sync.RWMutex
	selection  Selection
	current    *derive.Snapshot
	publishers []Publisher

	generation atomic.Uint64
	events     chan struct{}
}

// New creates a Scheduler.
func New(engine Deriver, resolver Resolver, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = config.DefaultRefreshInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		engine:   engine,
		resolver: resolver,
		interval: cfg.Interval,
		now:      cfg.Now,
		monitor:  cfg.Monitor,
		events:   make(chan struct{}, 1),
	}
}

// AddPublisher registers a fan-out target. Call before Run.
func (s *Scheduler) AddPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = append(s.publishers, p)
}

// Select switches to a new camera. The previous snapshot is invalid from this
// point on; a refresh is queued for the new selection.
func (s *Scheduler) Select(camera traffic.CameraID) Selection {
	corridor := s.resolver.ResolveCorridor(camera)

	s.mu.Lock()
	sel := Selection{Camera: camera, Corridor: corridor, Generation: s.generation.Add(1)}
	s.selection = sel
	s.current = nil
	s.mu.Unlock()

	// Coalesce with any pending event
	select {
	case s.events <- struct{}{}:
	default:
	}
	return sel
}

// Selection returns the current selection. Generation 0 means nothing is selected.
func (s *Scheduler) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// Current returns the snapshot for the current selection, or nil.
func (s *Scheduler) Current() *derive.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Refresh derives the current selection's snapshot now.
// It returns ErrSuperseded if the selection changed while deriving.
func (s *Scheduler) Refresh(ctx context.Context) (*derive.Snapshot, error) {
	sel := s.Selection()
	if sel.Generation == 0 {
		return nil, nil
	}

	snap, err := s.RefreshCorridor(ctx, sel.Corridor, sel.Camera)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.generation.Load() != sel.Generation {
		s.mu.Unlock()
		telemetry.StaleResultsDropped.Inc()
		return nil, ErrSuperseded
	}
	s.current = snap
	s.mu.Unlock()

	return snap, nil
}

// RefreshCorridor derives and publishes a corridor snapshot outside of any
// selection. Concurrent calls for the same corridor share one derivation.
func (s *Scheduler) RefreshCorridor(ctx context.Context, corridor traffic.CorridorID, camera traffic.CameraID) (*derive.Snapshot, error) {
	v, err, shared := s.flights.Do(string(corridor), func() (interface{}, error) {
		snap, err := s.engine.Derive(ctx, corridor, camera, s.now())
		if err != nil {
			return nil, err
		}
		s.fanOut(ctx, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Printf("Refresh for %s joined an in-flight derivation", corridor)
	}
	return v.(*derive.Snapshot), nil
}

// Invalidate drops the corridor's snapshot so the next read or tick recomputes it.
// A derivation already in flight for the corridor is no longer shared.
func (s *Scheduler) Invalidate(corridor traffic.CorridorID) {
	s.engine.Invalidate(corridor)
	s.flights.Forget(string(corridor))

	s.mu.Lock()
	if s.current != nil && s.current.Corridor == corridor {
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *Scheduler) fanOut(ctx context.Context, snap *derive.Snapshot) {
	s.mu.RLock()
	publishers := s.publishers
	s.mu.RUnlock()

	for _, p := range publishers {
		if err := p.Publish(ctx, snap); err != nil {
			telemetry.PublishFailures.WithLabelValues(p.Name()).Inc()
			log.Printf("Failed to publish snapshot for %s to %s: %v", snap.Corridor, p.Name(), err)
			continue
		}
		telemetry.SnapshotsPublished.WithLabelValues(p.Name()).Inc()
	}
}

// Run refreshes on every tick and on every selection change until ctx is done.
// Repeated failures are logged with exponential backoff.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("Refresh scheduler started (every %v)", s.interval)

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	cycle := func() {
		if s.Selection().Generation == 0 {
			return
		}

		start := time.Now()
		cycleCtx, cancel := context.WithTimeout(ctx, config.DetectionTimeout)
		_, err := s.Refresh(cycleCtx)
		cancel()

		telemetry.RefreshCycles.Inc()
		telemetry.RefreshDuration.Observe(time.Since(start).Seconds())

		// A superseded or invalidated result is expected churn, not a failure
		if err == nil || errors.Is(err, ErrSuperseded) || errors.Is(err, derive.ErrInvalidated) {
			if s.monitor != nil {
				s.monitor.RecordSuccess()
			}
			if consecutiveErrors > 0 {
				log.Printf("Refresh recovered after %d errors", consecutiveErrors)
				consecutiveErrors = 0
			}
			return
		}

		if s.monitor != nil {
			s.monitor.RecordFailure(err)
		}
		consecutiveErrors++
		now := time.Now()
		backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
			log.Printf("Refresh failed (error #%d, backoff %v): %v", consecutiveErrors, backoff, err)
			lastErrorTime = now
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping refresh scheduler")
			return
		case <-ticker.C:
			cycle()
		case <-s.events:
			cycle()
		}
	}
}
