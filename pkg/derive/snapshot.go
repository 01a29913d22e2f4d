package derive

import (
	"time"

	"github.com/nicktill/corridorpulse/pkg/analytics"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// Status tells consumers whether a snapshot carries derived numbers.
type Status string

const (
	StatusReady    Status = "ready"
	StatusAwaiting Status = "awaiting_data"
)

// AwaitingNarrative is shown while a corridor has no samples.
const AwaitingNarrative = "Run detection to populate insights."

// Snapshot is the immutable bundle of derived views for a corridor at one instant.
// Never mutate a Snapshot after it has been published.
type Snapshot struct {
	Corridor     traffic.CorridorID `json:"corridor"`
	CorridorName string             `json:"corridor_name"`
	Camera       traffic.CameraID   `json:"camera,omitempty"`
	GeneratedAt  time.Time          `json:"generated_at"`
	Status       Status             `json:"status"`
	Narrative    string             `json:"narrative"`
	Suggestion   string             `json:"suggestion"`

	// Insight is nil in the awaiting variant
	Insight *Insight `json:"insight,omitempty"`
}

// Ready reports whether the snapshot carries derived numbers.
func (s *Snapshot) Ready() bool {
	return s != nil && s.Status == StatusReady && s.Insight != nil
}

// Insight holds every derived number. ETAMinutes is the only field that
// depends on the random source.
type Insight struct {
	CongestionLevel  analytics.Level    `json:"congestion_level"`
	CurrentCount     int                `json:"current_count"`
	RecentAverage    float64            `json:"recent_average"`
	SampleCount      int                `json:"sample_count"`
	Trend            analytics.Trend    `json:"trend"`
	PredictedCount5m int                `json:"predicted_count_5m"`
	TimeBand         analytics.TimeBand `json:"time_band"`

	ETAMinutes     int    `json:"eta_minutes"`
	DelayMinutes   int    `json:"delay_minutes"`
	AltRouteAction string `json:"alt_route_action"`

	EstimatedSpeedMph    int `json:"estimated_speed_mph"`
	ExpectedDelayMinutes int `json:"expected_delay_minutes"`
}
