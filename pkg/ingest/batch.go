package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/telemetry"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// Ingester accepts samples for one camera.
type Ingester interface {
	Ingest(ctx context.Context, camera traffic.CameraID, samples []traffic.Sample) (traffic.CorridorID, error)
}

// BatchConfig holds configuration for the batcher
type BatchConfig struct {
	MaxBatchSize int           // Flush once this many samples are pending (0 = config.IngestBatchSize)
	FlushEvery   time.Duration // Flush interval (0 = config.IngestFlushEvery)
	Source       string        // Telemetry label for rejected samples
}

// Batcher groups pushed samples by camera and hands them to an Ingester
// when the batch is full or the flush interval elapses.
type Batcher struct {
	config BatchConfig
	sink   Ingester

	pending map[traffic.CameraID][]traffic.Sample
	count   int
	mu      sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup // Background flushes started by Add

	flushing atomic.Bool // Only one flush runs at a time
}

// NewBatcher creates a new batcher
func NewBatcher(sink Ingester, cfg BatchConfig) *Batcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = config.IngestBatchSize
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = config.IngestFlushEvery
	}
	if cfg.Source == "" {
		cfg.Source = "batch"
	}
	return &Batcher{
		config:  cfg,
		sink:    sink,
		pending: make(map[traffic.CameraID][]traffic.Sample),
		done:    make(chan struct{}),
	}
}

// Start starts the periodic flush loop
func (b *Batcher) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	go b.flushLoop(ctx)
}

// Add queues samples for a camera. A full batch is flushed in the background.
func (b *Batcher) Add(camera traffic.CameraID, samples []traffic.Sample) {
	if len(samples) == 0 {
		return
	}

	b.mu.Lock()
	b.pending[camera] = append(b.pending[camera], samples...)
	b.count += len(samples)
	shouldFlush := b.count >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer b.flushing.Store(false)
			b.Flush()
		}()
	}
}

// Pending returns the number of queued samples
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Flush hands every queued sample to the sink now
func (b *Batcher) Flush() error {
	b.mu.Lock()
	if b.count == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.pending
	b.pending = make(map[traffic.CameraID][]traffic.Sample)
	b.count = 0
	b.mu.Unlock()

	return b.send(batch)
}

// Stop stops the flush loop and flushes what is left
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.wg.Wait()
	return b.Flush()
}

func (b *Batcher) flushLoop(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.Flush()
				b.flushing.Store(false)
			}
		}
	}
}

// send ingests each camera's samples in camera order and joins the failures
func (b *Batcher) send(batch map[traffic.CameraID][]traffic.Sample) error {
	cameras := make([]traffic.CameraID, 0, len(batch))
	for camera := range batch {
		cameras = append(cameras, camera)
	}
	sort.Slice(cameras, func(i, j int) bool { return cameras[i] < cameras[j] })

	var errs []error
	for _, camera := range cameras {
		samples := batch[camera]

		ctx, cancel := context.WithTimeout(context.Background(), config.IngestTimeout)
		_, err := b.sink.Ingest(ctx, camera, samples)
		cancel()

		if err != nil {
			telemetry.SamplesRejected.WithLabelValues(b.config.Source).Add(float64(len(samples)))
			log.Printf("Dropped %d samples for %s: %v", len(samples), camera, err)
			errs = append(errs, fmt.Errorf("camera %s: %w", camera, err))
		}
	}
	return errors.Join(errs...)
}
