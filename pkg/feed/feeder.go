package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nicktill/corridorpulse/pkg/detect"
	"github.com/nicktill/corridorpulse/pkg/ingest"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// ErrNoCameras is returned by NewFeeder without cameras to feed
var ErrNoCameras = errors.New("at least one camera is required")

// Config configures a Feeder.
type Config struct {
	Cameras []traffic.CameraID
	Frames  int           // Samples per camera per round (0 = 5)
	Every   time.Duration // Round interval (0 = 5s)
}

// Feeder produces samples for a fixed set of cameras every interval and
// pushes them through a Transport.
type Feeder struct {
	producer  detect.Producer
	transport Transport
	cfg       Config
}

// NewFeeder creates a Feeder.
func NewFeeder(producer detect.Producer, transport Transport, cfg Config) (*Feeder, error) {
	if len(cfg.Cameras) == 0 {
		return nil, ErrNoCameras
	}
	if cfg.Frames <= 0 {
		cfg.Frames = 5
	}
	if cfg.Frames > ingest.MaxSamplesPerRequest {
		cfg.Frames = ingest.MaxSamplesPerRequest
	}
	if cfg.Every <= 0 {
		cfg.Every = 5 * time.Second
	}
	return &Feeder{producer: producer, transport: transport, cfg: cfg}, nil
}

// RunOnce pushes one round for every camera and returns the number of samples
// delivered. A failing camera does not stop the round.
func (f *Feeder) RunOnce(ctx context.Context) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, camera := range f.cfg.Cameras {
		samples, err := f.producer.ProduceFrames(ctx, camera, f.cfg.Frames)
		if err != nil {
			errs = append(errs, fmt.Errorf("camera %s: %w", camera, err))
			continue
		}
		if err := f.transport.Send(ctx, ingest.SamplesRequest{Camera: camera, Samples: samples}); err != nil {
			errs = append(errs, fmt.Errorf("camera %s: %w", camera, err))
			continue
		}
		sent += len(samples)
	}
	return sent, errors.Join(errs...)
}

// Run pushes a round every interval until ctx is done. Repeated failures are
// logged with exponential backoff.
func (f *Feeder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Every)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	round := func() {
		sent, err := f.RunOnce(ctx)
		if err == nil {
			if consecutiveErrors > 0 {
				log.Printf("Feed recovered after %d errors", consecutiveErrors)
				consecutiveErrors = 0
			}
			log.Printf("Pushed %d samples for %d cameras", sent, len(f.cfg.Cameras))
			return
		}

		consecutiveErrors++
		now := time.Now()
		backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
			log.Printf("Feed round failed (error #%d, backoff %v, %d samples sent): %v", consecutiveErrors, backoff, sent, err)
			lastErrorTime = now
		}
	}

	round()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			round()
		}
	}
}
