package ingest

import (
	"errors"
	"fmt"

	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// Request limits
const (
	MaxSamplesPerRequest = 1000    // Maximum samples in a single push
	MaxPayloadBytes      = 1 << 20 // Maximum request or message body
)

var (
	// ErrCameraRequired is returned when a push does not name its camera
	ErrCameraRequired = errors.New("camera is required")

	// ErrNoSamples is returned when a push carries no samples
	ErrNoSamples = errors.New("no samples in request")

	// ErrTooManySamples is returned when a push exceeds MaxSamplesPerRequest
	ErrTooManySamples = fmt.Errorf("too many samples in request (max %d)", MaxSamplesPerRequest)
)

// SamplesRequest is the push payload shared by HTTP and MQTT.
type SamplesRequest struct {
	Camera  traffic.CameraID `json:"camera"`
	Samples []traffic.Sample `json:"samples"`
}

// Validate checks a push against the request limits and every sample against
// the traffic validation rules.
func (r SamplesRequest) Validate() error {
	if r.Camera == "" {
		return ErrCameraRequired
	}
	if len(r.Camera) > traffic.MaxCameraIDLength {
		return fmt.Errorf("%w: %d chars", traffic.ErrCameraIDTooLong, len(r.Camera))
	}
	if len(r.Samples) == 0 {
		return ErrNoSamples
	}
	if len(r.Samples) > MaxSamplesPerRequest {
		return fmt.Errorf("%w: got %d", ErrTooManySamples, len(r.Samples))
	}
	if err := traffic.ValidateSamples(r.Samples); err != nil {
		return fmt.Errorf("invalid sample: %w", err)
	}
	return nil
}
