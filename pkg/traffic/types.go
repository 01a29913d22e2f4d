// Package traffic holds the vehicle-count data model shared by every other
// corridorpulse package.
package traffic

import (
	"sort"
	"time"
)

// CameraID identifies a traffic camera.
type CameraID string

// CorridorID identifies a named road segment or group of cameras.
type CorridorID string

// Sample is one timestamped vehicle-count observation for a camera.
type Sample struct {
	Timestamp time.Time `json:"ts"`
	CameraID  CameraID  `json:"camera,omitempty"`
	Cars      int       `json:"cars"`
	Buses     int       `json:"buses"`
	Trucks    int       `json:"trucks"`
}

// Total returns the number of vehicles of every kind in the sample.
func (s Sample) Total() int {
	return s.Cars + s.Buses + s.Trucks
}

// Window is the bounded, ordered recent history for a corridor.
// Samples are ordered non-decreasing by timestamp.
type Window struct {
	Corridor CorridorID `json:"corridor"`
	Samples  []Sample   `json:"samples"`
}

// Empty reports whether no samples exist yet. A window of zero counts is not empty.
func (w Window) Empty() bool {
	return len(w.Samples) == 0
}

// Len returns the number of samples in the window.
func (w Window) Len() int {
	return len(w.Samples)
}

// Latest returns the most recent sample. ok is false for an empty window.
func (w Window) Latest() (Sample, bool) {
	if w.Empty() {
		return Sample{}, false
	}
	return w.Samples[len(w.Samples)-1], true
}

// Cars returns the car counts in window order.
func (w Window) Cars() []float64 {
	cars := make([]float64, len(w.Samples))
	for i, s := range w.Samples {
		cars[i] = float64(s.Cars)
	}
	return cars
}

// SortSamples orders samples by timestamp, keeping insertion order for ties.
func SortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
}

// LastN returns a copy of the newest n samples (or fewer) from an ordered slice.
func LastN(samples []Sample, n int) []Sample {
	if n < 0 {
		n = 0
	}
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}
