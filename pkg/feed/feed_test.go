package feed

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/corridorpulse/pkg/detect"
	"github.com/nicktill/corridorpulse/pkg/ingest"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

var base = time.Date(2025, 3, 14, 8, 30, 0, 0, time.UTC)

// recordingIngester keeps every push by camera
type recordingIngester struct {
	mu     sync.Mutex
	pushes map[traffic.CameraID][]traffic.Sample
}

func (r *recordingIngester) Ingest(_ context.Context, camera traffic.CameraID, samples []traffic.Sample) (traffic.CorridorID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pushes == nil {
		r.pushes = make(map[traffic.CameraID][]traffic.Sample)
	}
	r.pushes[camera] = append(r.pushes[camera], samples...)
	return "i-678-van-wyck", nil
}

// recordingTransport keeps every request and fails for the listed cameras
type recordingTransport struct {
	sent []ingest.SamplesRequest
	fail map[traffic.CameraID]bool
}

func (r *recordingTransport) Send(_ context.Context, req ingest.SamplesRequest) error {
	if r.fail[req.Camera] {
		return errors.New("broker unavailable")
	}
	r.sent = append(r.sent, req)
	return nil
}

func (r *recordingTransport) Close() error { return nil }

func fixedProducer() detect.Producer {
	return detect.NewSimulator(rand.New(rand.NewPCG(3, 4)), func() time.Time { return base })
}

func TestHTTPTransport_SendReachesHandler(t *testing.T) {
	ingester := &recordingIngester{}
	server := httptest.NewServer(http.HandlerFunc(ingest.NewHandler(ingester).HandleSamples))
	defer server.Close()

	transport := NewHTTP(server.URL)
	defer transport.Close()

	samples := []traffic.Sample{{Timestamp: base, Cars: 12}, {Timestamp: base.Add(time.Second), Cars: 17}}
	require.NoError(t, transport.Send(context.Background(), ingest.SamplesRequest{Camera: "R11_159", Samples: samples}))

	require.Len(t, ingester.pushes["R11_159"], 2)
	require.Equal(t, 17, ingester.pushes["R11_159"][1].Cars)
}

func TestHTTPTransport_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(ingest.NewHandler(&recordingIngester{}).HandleSamples))
	defer server.Close()

	// No camera: the handler answers 400
	err := NewHTTP(server.URL).Send(context.Background(), ingest.SamplesRequest{Samples: []traffic.Sample{{Timestamp: base}}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 400")
	require.Contains(t, err.Error(), "camera is required")
}

func TestHTTPTransport_EmptyIsNoop(t *testing.T) {
	// Nothing listens here; an empty request must not dial
	require.NoError(t, NewHTTP("http://127.0.0.1:1/v1/samples").Send(context.Background(), ingest.SamplesRequest{Camera: "R11_159"}))
}

func TestNewMQTT_UnreachableBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewMQTT(ctx, "tcp://127.0.0.1:1", "corridorpulse/samples", "feed-test")
	require.Error(t, err)
}

func TestMQTTTransport_Topic(t *testing.T) {
	transport := &MQTTTransport{prefix: "corridorpulse/samples"}
	require.Equal(t, "corridorpulse/samples/R11_159", transport.Topic(ingest.SamplesRequest{Camera: "R11_159"}))
}

func TestFeeder_RunOnce(t *testing.T) {
	transport := &recordingTransport{}
	feeder, err := NewFeeder(fixedProducer(), transport, Config{Cameras: []traffic.CameraID{"R11_159", "R11_140"}, Frames: 3})
	require.NoError(t, err)

	sent, err := feeder.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, sent)
	require.Len(t, transport.sent, 2)

	for _, req := range transport.sent {
		require.NoError(t, req.Validate())
		require.Len(t, req.Samples, 3)
	}
}

func TestFeeder_RunOnceContinuesPastFailures(t *testing.T) {
	transport := &recordingTransport{fail: map[traffic.CameraID]bool{"R11_159": true}}
	feeder, err := NewFeeder(fixedProducer(), transport, Config{Cameras: []traffic.CameraID{"R11_159", "R11_140"}, Frames: 2})
	require.NoError(t, err)

	sent, err := feeder.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "R11_159")
	require.Equal(t, 2, sent)
	require.Equal(t, traffic.CameraID("R11_140"), transport.sent[0].Camera)
}

func TestNewFeeder_Defaults(t *testing.T) {
	_, err := NewFeeder(fixedProducer(), &recordingTransport{}, Config{})
	require.ErrorIs(t, err, ErrNoCameras)

	feeder, err := NewFeeder(fixedProducer(), &recordingTransport{}, Config{Cameras: []traffic.CameraID{"R11_159"}, Frames: 5000})
	require.NoError(t, err)
	require.Equal(t, ingest.MaxSamplesPerRequest, feeder.cfg.Frames)
	require.Equal(t, 5*time.Second, feeder.cfg.Every)
}

func TestFeeder_RunStopsWithContext(t *testing.T) {
	transport := &recordingTransport{}
	feeder, err := NewFeeder(fixedProducer(), transport, Config{Cameras: []traffic.CameraID{"R11_159"}, Every: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feeder.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("feeder did not stop")
	}
}
