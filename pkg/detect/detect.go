// Package detect is the ingress capability that produces labelled vehicle-count
// samples for a camera. Real computer-vision inference is out of scope; the
// Simulator stands in for it.
package detect

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// ErrNoFrames is returned when a producer yields nothing
var ErrNoFrames = errors.New("producer returned no frames")

// Producer produces up to maxFrames samples for a camera.
type Producer interface {
	ProduceFrames(ctx context.Context, camera traffic.CameraID, maxFrames int) ([]traffic.Sample, error)
}

// Count ranges drawn by the Simulator, inclusive.
const (
	MinCars   = 5
	MaxCars   = 30
	MaxBuses  = 3
	MaxTrucks = 5
)

// Simulator draws plausible counts with one frame per second starting at now.
type Simulator struct {
	now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a Simulator. A nil rng uses a randomly seeded PCG source.
func NewSimulator(rng *rand.Rand, now func() time.Time) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if now == nil {
		now = time.Now
	}
	return &Simulator{rng: rng, now: now}
}

// ProduceFrames returns maxFrames simulated samples (config.DefaultMaxFrames when <= 0).
func (s *Simulator) ProduceFrames(ctx context.Context, camera traffic.CameraID, maxFrames int) ([]traffic.Sample, error) {
	if maxFrames <= 0 {
		maxFrames = config.DefaultMaxFrames
	}
	if maxFrames > config.MaxFramesLimit {
		maxFrames = config.MaxFramesLimit
	}

	start := s.now()
	samples := make([]traffic.Sample, 0, maxFrames)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < maxFrames; i++ {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		samples = append(samples, traffic.Sample{
			Timestamp: start.Add(time.Duration(i) * time.Second),
			CameraID:  camera,
			Cars:      MinCars + s.rng.IntN(MaxCars-MinCars+1),
			Buses:     s.rng.IntN(MaxBuses + 1),
			Trucks:    s.rng.IntN(MaxTrucks + 1),
		})
	}
	return samples, nil
}

// Func adapts a function to a Producer.
type Func func(ctx context.Context, camera traffic.CameraID, maxFrames int) ([]traffic.Sample, error)

// ProduceFrames calls f.
func (f Func) ProduceFrames(ctx context.Context, camera traffic.CameraID, maxFrames int) ([]traffic.Sample, error) {
	return f(ctx, camera, maxFrames)
}
