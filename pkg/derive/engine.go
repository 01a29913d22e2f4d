// Package derive turns one corridor window into a Snapshot of derived views
// (congestion, trend, bus ETA, delay, alternative route, bus performance) and
// publishes it atomically per corridor.
package derive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/corridorpulse/pkg/analytics"
	"github.com/nicktill/corridorpulse/pkg/directory"
	"github.com/nicktill/corridorpulse/pkg/telemetry"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// ErrInvalidated is returned by Derive when the corridor was invalidated while computing
var ErrInvalidated = errors.New("corridor invalidated during derivation")

// WindowSource returns a copy of a corridor's current window.
type WindowSource interface {
	LatestWindow(corridor traffic.CorridorID) traffic.Window
}

// Catalog supplies the static per-corridor text.
type Catalog interface {
	CorridorName(corridor traffic.CorridorID) string
	SuggestionFor(corridor traffic.CorridorID) string
	AlternativesFor(corridor traffic.CorridorID) directory.Alternatives
}

// Config configures an Engine. Zero values pick the defaults.
type Config struct {
	Rules    *Rules
	Random   RandomSource
	Location *time.Location
}

// Engine computes and publishes snapshots.
type Engine struct {
	windows WindowSource
	catalog Catalog
	rules   Rules
	random  RandomSource
	loc     *time.Location

	mu        sync.Mutex
	published map[traffic.CorridorID]*slot
}

// slot holds a corridor's published snapshot. epoch advances on every
// invalidation so a derivation started before it cannot publish.
type slot struct {
	snap atomic.Pointer[Snapshot]

	mu    sync.Mutex
	epoch uint64
}

// NewEngine creates an Engine reading windows from windows and text from catalog.
func NewEngine(windows WindowSource, catalog Catalog, cfg Config) (*Engine, error) {
	rules := DefaultRules()
	if cfg.Rules != nil {
		rules = *cfg.Rules
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid derivation rules: %w", err)
	}
	if cfg.Random == nil {
		cfg.Random = UniformSource{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	return &Engine{
		windows:   windows,
		catalog:   catalog,
		rules:     rules,
		random:    cfg.Random,
		loc:       cfg.Location,
		published: make(map[traffic.CorridorID]*slot),
	}, nil
}

// Rules returns the rule set in use.
func (e *Engine) Rules() Rules {
	return e.rules
}

// TimeBand returns the time band of now in the engine's location.
func (e *Engine) TimeBand(now time.Time) analytics.TimeBand {
	return analytics.TimeBandOf(now.In(e.loc))
}

// Compute builds a snapshot from one copy of the corridor window without publishing it.
func (e *Engine) Compute(corridor traffic.CorridorID, camera traffic.CameraID, now time.Time) *Snapshot {
	window := e.windows.LatestWindow(corridor)

	snap := &Snapshot{
		Corridor:     corridor,
		CorridorName: e.catalog.CorridorName(corridor),
		Camera:       camera,
		GeneratedAt:  now,
		Suggestion:   e.catalog.SuggestionFor(corridor),
	}

	prediction, ok := analytics.Predict(window)
	if !ok {
		snap.Status = StatusAwaiting
		snap.Narrative = AwaitingNarrative
		telemetry.SnapshotsDerived.WithLabelValues(string(StatusAwaiting)).Inc()
		return snap
	}

	cars := prediction.Current
	level, narrative := analytics.Classify(cars)
	speed := e.speed(cars)

	snap.Status = StatusReady
	snap.Narrative = narrative
	snap.Insight = &Insight{
		CongestionLevel:  level,
		CurrentCount:     cars,
		RecentAverage:    prediction.RecentAverage,
		SampleCount:      window.Len(),
		Trend:            prediction.Trend,
		PredictedCount5m: prediction.PredictedCount5m,
		TimeBand:         e.TimeBand(now),

		ETAMinutes:     e.eta(cars),
		DelayMinutes:   e.delay(cars),
		AltRouteAction: e.altRoute(corridor, cars),

		EstimatedSpeedMph:    speed,
		ExpectedDelayMinutes: e.expectedDelay(speed),
	}

	telemetry.SnapshotsDerived.WithLabelValues(string(StatusReady)).Inc()
	return snap
}

// Derive computes a snapshot and publishes it, replacing the corridor's previous one.
// Nothing is published if ctx is done or the corridor is invalidated meanwhile.
func (e *Engine) Derive(ctx context.Context, corridor traffic.CorridorID, camera traffic.CameraID, now time.Time) (*Snapshot, error) {
	sl := e.slot(corridor)
	sl.mu.Lock()
	epoch := sl.epoch
	sl.mu.Unlock()

	snap := e.Compute(corridor, camera, now)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("derivation cancelled: %w", err)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.epoch != epoch {
		return nil, ErrInvalidated
	}
	sl.snap.Store(snap)
	return snap, nil
}

// Publish makes snap the corridor's current snapshot in a single atomic store.
func (e *Engine) Publish(snap *Snapshot) {
	sl := e.slot(snap.Corridor)
	sl.mu.Lock()
	sl.snap.Store(snap)
	sl.mu.Unlock()
}

// Latest returns the corridor's published snapshot, or nil.
func (e *Engine) Latest(corridor traffic.CorridorID) *Snapshot {
	return e.slot(corridor).snap.Load()
}

// Invalidate discards the corridor's published snapshot.
func (e *Engine) Invalidate(corridor traffic.CorridorID) {
	sl := e.slot(corridor)
	sl.mu.Lock()
	sl.epoch++
	sl.snap.Store(nil)
	sl.mu.Unlock()
}

func (e *Engine) slot(corridor traffic.CorridorID) *slot {
	e.mu.Lock()
	defer e.mu.Unlock()

	sl, ok := e.published[corridor]
	if !ok {
		sl = &slot{}
		e.published[corridor] = sl
	}
	return sl
}

// eta is a random baseline plus a congestion penalty.
func (e *Engine) eta(cars int) int {
	eta := e.random.IntRange(e.rules.ETABaseMin, e.rules.ETABaseMax)
	switch {
	case cars > e.rules.ETAHeavyCars:
		eta += e.rules.ETAHeavyPenalty
	case cars > e.rules.ETAModerateCars:
		eta += e.rules.ETAModeratePenalty
	}
	return eta
}

func (e *Engine) delay(cars int) int {
	return lookup(e.rules.DelaySteps, cars, e.rules.MaxDelay)
}

func (e *Engine) altRoute(corridor traffic.CorridorID, cars int) string {
	alt := e.catalog.AlternativesFor(corridor)
	switch {
	case cars > e.rules.SubwayCars:
		return fmt.Sprintf(HeavyActionFormat, alt.Subway)
	case cars > e.rules.SecondaryCars:
		return fmt.Sprintf(ModerateActionFormat, alt.Secondary)
	default:
		return NormalAction
	}
}

func (e *Engine) speed(cars int) int {
	return lookup(e.rules.SpeedSteps, cars, e.rules.CongestedSpeed)
}

// expectedDelay converts lost speed against free flow into minutes.
func (e *Engine) expectedDelay(speed int) int {
	return max(0, analytics.Round(float64(e.rules.FreeFlowSpeed-speed)*e.rules.DelayPerMphLost))
}
