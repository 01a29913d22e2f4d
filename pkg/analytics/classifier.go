// Package analytics classifies congestion and extrapolates short-horizon trends
// from a corridor window. Everything here is a pure function of its inputs.
package analytics

// Level is a coarse congestion bucket.
type Level string

const (
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHigh   Level = "High"
)

// Congestion thresholds on the current car count.
// Counts below LowCongestionLimit are Low; counts at or above HighCongestionLimit are High.
const (
	LowCongestionLimit  = 10
	HighCongestionLimit = 25
)

// Narratives shown next to each level.
const (
	NarrativeLow    = "Free-flow traffic."
	NarrativeMedium = "Moderate traffic with some slowdowns."
	NarrativeHigh   = "Heavy congestion expected."
)

// Classify buckets a current car count. Negative counts are treated as zero.
func Classify(cars int) (Level, string) {
	switch {
	case cars < LowCongestionLimit:
		return LevelLow, NarrativeLow
	case cars < HighCongestionLimit:
		return LevelMedium, NarrativeMedium
	default:
		return LevelHigh, NarrativeHigh
	}
}
