// Package insight is the query surface the presentation layer talks to: read a
// corridor snapshot, run detection for a camera, change the selected camera.
package insight

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/derive"
	"github.com/nicktill/corridorpulse/pkg/detect"
	"github.com/nicktill/corridorpulse/pkg/directory"
	"github.com/nicktill/corridorpulse/pkg/scheduler"
	"github.com/nicktill/corridorpulse/pkg/telemetry"
	"github.com/nicktill/corridorpulse/pkg/traffic"
	"github.com/nicktill/corridorpulse/pkg/window"
)

// Detection run outcomes
const (
	RunCompleted = "completed"
	RunFailed    = "failed"

	FailedMessage = "Detection failed."
)

// ErrUnknownCamera is returned when pushed samples name a camera outside the catalog
var ErrUnknownCamera = errors.New("camera is not in the catalog")

// DetectionRun reports one triggerDetection call. Frames is 0 on failure.
type DetectionRun struct {
	RunID    string             `json:"run_id"`
	Camera   traffic.CameraID   `json:"camera"`
	Corridor traffic.CorridorID `json:"corridor"`
	Frames   int                `json:"frames"`
	Status   string             `json:"status"`
	Message  string             `json:"message"`
	Error    string             `json:"error,omitempty"`
	Duration string             `json:"duration"`
}

// CorridorInfo describes a catalog corridor and how much data it holds.
type CorridorInfo struct {
	ID      traffic.CorridorID `json:"id"`
	Name    string             `json:"name"`
	Samples int                `json:"samples"`
}

// Config configures a Service. Zero values pick the defaults.
type Config struct {
	// MaxFrames per detection run (0 = config.DefaultMaxFrames)
	MaxFrames int

	// Now returns the evaluation instant (nil = time.Now)
	Now func() time.Time

	// MaxAge is how long a published snapshot answers reads
	// (0 = two default refresh intervals)
	MaxAge time.Duration
}

// Service ties the directory, the window store, the derivation engine and the
// refresh scheduler together.
type Service struct {
	dir       *directory.Directory
	store     *window.Store
	engine    *derive.Engine
	sched     *scheduler.Scheduler
	producer  detect.Producer
	maxFrames int
	maxAge    time.Duration
	now       func() time.Time
}

// NewService creates a Service.
func NewService(dir *directory.Directory, store *window.Store, engine *derive.Engine, sched *scheduler.Scheduler, producer detect.Producer, cfg Config) *Service {
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = config.DefaultMaxFrames
	}
	if cfg.MaxFrames > config.MaxFramesLimit {
		cfg.MaxFrames = config.MaxFramesLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 2 * config.DefaultRefreshInterval
	}
	return &Service{
		dir:       dir,
		store:     store,
		engine:    engine,
		sched:     sched,
		producer:  producer,
		maxFrames: cfg.MaxFrames,
		maxAge:    cfg.MaxAge,
		now:       cfg.Now,
	}
}

// GetSnapshot returns the camera's corridor snapshot as of now. It never
// publishes or appends: the published snapshot is returned while it still
// holds for now, otherwise a fresh one is computed from the current window.
func (s *Service) GetSnapshot(camera traffic.CameraID, now time.Time) *derive.Snapshot {
	corridor := s.dir.ResolveCorridor(camera)
	if snap := s.engine.Latest(corridor); s.holds(snap, camera, now) {
		return snap
	}
	return s.engine.Compute(corridor, camera, now)
}

// holds reports whether a published snapshot answers a read for camera at now:
// same camera, generated within maxAge before now and in the same time band.
func (s *Service) holds(snap *derive.Snapshot, camera traffic.CameraID, now time.Time) bool {
	if snap == nil || snap.Camera != camera {
		return false
	}
	age := now.Sub(snap.GeneratedAt)
	if age < 0 || age > s.maxAge {
		return false
	}
	return snap.Insight == nil || snap.Insight.TimeBand == s.engine.TimeBand(now)
}

// TriggerDetection produces samples for the camera, appends them to its
// corridor window and refreshes the corridor snapshot. Failures are reported in
// the returned run with Frames = 0; nothing is retried.
func (s *Service) TriggerDetection(ctx context.Context, camera traffic.CameraID) DetectionRun {
	start := time.Now()
	corridor := s.dir.ResolveCorridor(camera)
	run := DetectionRun{
		RunID:    uuid.NewString(),
		Camera:   camera,
		Corridor: corridor,
		Status:   RunFailed,
		Message:  FailedMessage,
	}
	defer func() {
		run.Duration = time.Since(start).String()
		telemetry.DetectionRuns.WithLabelValues(run.Status).Inc()
	}()

	if corridor == directory.UnknownCorridor {
		log.Printf("Detection run %s: camera %q is not in the catalog", run.RunID, camera)
		return run
	}

	samples, err := s.produce(ctx, camera)
	if err != nil {
		log.Printf("Detection run %s for %s failed: %v", run.RunID, camera, err)
		run.Error = err.Error()
		return run
	}

	stampCamera(samples, camera)
	if err := s.store.Append(ctx, corridor, samples); err != nil {
		log.Printf("Detection run %s for %s rejected: %v", run.RunID, camera, err)
		run.Error = err.Error()
		return run
	}
	telemetry.SamplesReceived.WithLabelValues("detect").Add(float64(len(samples)))

	run.Frames = len(samples)
	run.Status = RunCompleted
	run.Message = fmt.Sprintf("Completed %d frames.", run.Frames)

	s.refresh(ctx, corridor, camera)
	return run
}

// produce runs the producer bounded by config.DetectionTimeout. An empty
// result is detect.ErrNoFrames.
func (s *Service) produce(ctx context.Context, camera traffic.CameraID) ([]traffic.Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, config.DetectionTimeout)
	defer cancel()

	samples, err := s.producer.ProduceFrames(ctx, camera, s.maxFrames)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, detect.ErrNoFrames
	}
	return samples, nil
}

// Ingest appends pushed samples for a catalog camera and invalidates the
// corridor snapshot. The next tick or read recomputes it.
func (s *Service) Ingest(ctx context.Context, camera traffic.CameraID, samples []traffic.Sample) (traffic.CorridorID, error) {
	corridor := s.dir.ResolveCorridor(camera)
	if corridor == directory.UnknownCorridor {
		return corridor, fmt.Errorf("%w: %q", ErrUnknownCamera, camera)
	}

	stampCamera(samples, camera)
	if err := s.store.Append(ctx, corridor, samples); err != nil {
		return corridor, err
	}
	if len(samples) > 0 {
		s.sched.Invalidate(corridor)
	}
	return corridor, nil
}

// Select changes the watched camera and queues a refresh for it.
func (s *Service) Select(camera traffic.CameraID) scheduler.Selection {
	return s.sched.Select(camera)
}

// Current returns the selection and its snapshot. Before the first refresh
// completes the snapshot is computed on the spot without publishing.
func (s *Service) Current() (scheduler.Selection, *derive.Snapshot) {
	sel := s.sched.Selection()
	if sel.Generation == 0 {
		return sel, nil
	}
	if snap := s.sched.Current(); snap != nil {
		return sel, snap
	}
	return sel, s.GetSnapshot(sel.Camera, s.now())
}

// Corridors lists the catalog corridors with their current window sizes.
func (s *Service) Corridors() []CorridorInfo {
	corridors := s.dir.Corridors()
	out := make([]CorridorInfo, 0, len(corridors))
	for _, c := range corridors {
		out = append(out, CorridorInfo{
			ID:      c.ID,
			Name:    c.Name,
			Samples: s.store.LatestWindow(c.ID).Len(),
		})
	}
	return out
}

// Cameras lists the catalog cameras.
func (s *Service) Cameras() []directory.Camera {
	return s.dir.Cameras()
}

// Window returns a copy of the corridor's newest n samples (n <= 0 means the whole window).
func (s *Service) Window(corridor traffic.CorridorID, n int) traffic.Window {
	if n <= 0 {
		return s.store.LatestWindow(corridor)
	}
	return s.store.Tail(corridor, n)
}

// HasCorridor reports whether the corridor is in the catalog.
func (s *Service) HasCorridor(corridor traffic.CorridorID) bool {
	return s.dir.HasCorridor(corridor)
}

// refresh invalidates the corridor and derives it again. The selected
// corridor goes through the scheduler so its current view is updated too.
func (s *Service) refresh(ctx context.Context, corridor traffic.CorridorID, camera traffic.CameraID) {
	s.sched.Invalidate(corridor)

	var err error
	if sel := s.sched.Selection(); sel.Generation != 0 && sel.Corridor == corridor {
		_, err = s.sched.Refresh(ctx)
	} else {
		_, err = s.sched.RefreshCorridor(ctx, corridor, camera)
	}
	if err != nil && !errors.Is(err, scheduler.ErrSuperseded) {
		// The next tick or read recomputes it
		log.Printf("Refresh after detection failed for %s: %v", corridor, err)
	}
}

// stampCamera fills in the camera on samples that arrived without one.
func stampCamera(samples []traffic.Sample, camera traffic.CameraID) {
	for i := range samples {
		if samples[i].CameraID == "" {
			samples[i].CameraID = camera
		}
	}
}
