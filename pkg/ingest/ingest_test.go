package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/corridorpulse/pkg/traffic"
)

var base = time.Date(2025, 3, 14, 17, 0, 0, 0, time.UTC)

// fakeIngester records every Ingest call
type fakeIngester struct {
	mu    sync.Mutex
	calls map[traffic.CameraID][]traffic.Sample
	err   error
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{calls: make(map[traffic.CameraID][]traffic.Sample)}
}

func (f *fakeIngester) Ingest(_ context.Context, camera traffic.CameraID, samples []traffic.Sample) (traffic.CorridorID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls[camera] = append(f.calls[camera], samples...)
	return "i-678-van-wyck", nil
}

func (f *fakeIngester) count(camera traffic.CameraID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[camera])
}

func samplesOf(cars ...int) []traffic.Sample {
	out := make([]traffic.Sample, len(cars))
	for i, c := range cars {
		out[i] = traffic.Sample{Timestamp: base.Add(time.Duration(i) * time.Second), Cars: c}
	}
	return out
}
