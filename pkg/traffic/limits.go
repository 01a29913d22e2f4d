package traffic

import (
	"errors"
	"fmt"
)

// Validation limits
const (
	MaxCameraIDLength = 256
	MaxVehicleCount   = 10000 // Per kind, per frame
)

var (
	// ErrNegativeCount is returned when a sample carries a negative vehicle count
	ErrNegativeCount = errors.New("vehicle counts must be non-negative")

	// ErrCountTooLarge is returned when a sample exceeds MaxVehicleCount
	ErrCountTooLarge = fmt.Errorf("vehicle count too large (max %d per kind)", MaxVehicleCount)

	// ErrMissingTimestamp is returned when a sample has a zero timestamp
	ErrMissingTimestamp = errors.New("sample timestamp is required")

	// ErrCameraIDTooLong is returned when a camera id exceeds MaxCameraIDLength
	ErrCameraIDTooLong = fmt.Errorf("camera id too long (max %d chars)", MaxCameraIDLength)
)

// ValidateSample checks a sample before it enters a window.
func ValidateSample(s Sample) error {
	if s.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if s.Cars < 0 || s.Buses < 0 || s.Trucks < 0 {
		return fmt.Errorf("%w: cars=%d buses=%d trucks=%d", ErrNegativeCount, s.Cars, s.Buses, s.Trucks)
	}
	if s.Cars > MaxVehicleCount || s.Buses > MaxVehicleCount || s.Trucks > MaxVehicleCount {
		return fmt.Errorf("%w: cars=%d buses=%d trucks=%d", ErrCountTooLarge, s.Cars, s.Buses, s.Trucks)
	}
	if len(s.CameraID) > MaxCameraIDLength {
		return fmt.Errorf("%w: %d chars", ErrCameraIDTooLong, len(s.CameraID))
	}
	return nil
}

// ValidateSamples validates every sample and reports the first failure with its index.
func ValidateSamples(samples []Sample) error {
	for i, s := range samples {
		if err := ValidateSample(s); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return nil
}
