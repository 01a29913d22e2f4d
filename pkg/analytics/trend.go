package analytics

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// Trend is the direction of the current count relative to the prior average.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Momentum thresholds and the factors applied to the current count.
// This is a plain extrapolation of the latest sample, not a learned model.
const (
	IncreasingThreshold = 1.10
	DecreasingThreshold = 0.90

	IncreasingFactor = 1.15
	DecreasingFactor = 0.90
	StableFactor     = 1.00
)

// Prediction is the trend read of one window.
type Prediction struct {
	Current          int     `json:"current"`
	RecentAverage    float64 `json:"recent_average"`
	PriorAverage     float64 `json:"prior_average"`
	Trend            Trend   `json:"trend"`
	Factor           float64 `json:"factor"`
	PredictedCount5m int     `json:"predicted_count_5m"`
}

// Predict extrapolates the car count five minutes ahead.
// ok is false for an empty window.
func Predict(w traffic.Window) (Prediction, bool) {
	latest, ok := w.Latest()
	if !ok {
		return Prediction{}, false
	}

	cars := w.Cars()
	recent := stat.Mean(cars, nil)

	// With a single sample there is no history to compare against
	prior := recent
	if len(cars) >= 2 {
		prior = stat.Mean(cars[:len(cars)-1], nil)
	}

	current := latest.Cars
	p := Prediction{
		Current:       current,
		RecentAverage: recent,
		PriorAverage:  prior,
	}

	switch c := float64(current); {
	case c > prior*IncreasingThreshold:
		p.Trend, p.Factor = TrendIncreasing, IncreasingFactor
	case c < prior*DecreasingThreshold:
		p.Trend, p.Factor = TrendDecreasing, DecreasingFactor
	default:
		p.Trend, p.Factor = TrendStable, StableFactor
	}

	p.PredictedCount5m = Round(float64(current) * p.Factor)
	return p, true
}

// Round rounds half away from zero.
func Round(x float64) int {
	return int(math.Round(x))
}

// TimeBand is a coarse period of the day.
type TimeBand string

const (
	AMPeak  TimeBand = "AM Peak"
	PMPeak  TimeBand = "PM Peak"
	OffPeak TimeBand = "Off-Peak"
)

// Peak windows as [start, end) hours.
const (
	AMPeakStartHour = 7
	AMPeakEndHour   = 10
	PMPeakStartHour = 16
	PMPeakEndHour   = 19
)

// TimeBandOf maps the wall-clock hour of now (in now's location) to a band.
func TimeBandOf(now time.Time) TimeBand {
	h := now.Hour()
	switch {
	case h >= AMPeakStartHour && h < AMPeakEndHour:
		return AMPeak
	case h >= PMPeakStartHour && h < PMPeakEndHour:
		return PMPeak
	default:
		return OffPeak
	}
}
