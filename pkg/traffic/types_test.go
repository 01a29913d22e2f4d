package traffic

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateSample(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		sample  Sample
		wantErr error
	}{
		{"valid", Sample{Timestamp: now, CameraID: "R11_159", Cars: 12}, nil},
		{"all zero counts", Sample{Timestamp: now}, nil},
		{"missing timestamp", Sample{Cars: 3}, ErrMissingTimestamp},
		{"negative cars", Sample{Timestamp: now, Cars: -1}, ErrNegativeCount},
		{"negative trucks", Sample{Timestamp: now, Trucks: -4}, ErrNegativeCount},
		{"cars at limit", Sample{Timestamp: now, Cars: MaxVehicleCount}, nil},
		{"cars over limit", Sample{Timestamp: now, Cars: 8_500_000_000_000_000_000}, ErrCountTooLarge},
		{"buses over limit", Sample{Timestamp: now, Buses: MaxVehicleCount + 1}, ErrCountTooLarge},
		{"camera id too long", Sample{Timestamp: now, CameraID: CameraID(strings.Repeat("x", MaxCameraIDLength+1))}, ErrCameraIDTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSample(tt.sample)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateSample() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSample() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSample_Total(t *testing.T) {
	s := Sample{Cars: 12, Buses: 2, Trucks: 3}
	if got := s.Total(); got != 17 {
		t.Errorf("Total() = %d, want 17", got)
	}
}

func TestValidateSamples_ReportsIndex(t *testing.T) {
	now := time.Now()
	err := ValidateSamples([]Sample{{Timestamp: now}, {Timestamp: now, Buses: -2}})
	if !errors.Is(err, ErrNegativeCount) {
		t.Fatalf("error = %v, want ErrNegativeCount", err)
	}
	if !strings.Contains(err.Error(), "sample 1") {
		t.Errorf("error %q should name the failing index", err)
	}
}

func TestWindow_EmptyIsNotZeroCounts(t *testing.T) {
	var empty Window
	if !empty.Empty() {
		t.Error("zero Window should be empty")
	}

	zeros := Window{Samples: []Sample{{Timestamp: time.Now()}}}
	if zeros.Empty() {
		t.Error("window holding a zero-count sample must not be empty")
	}
	latest, ok := zeros.Latest()
	if !ok || latest.Cars != 0 {
		t.Errorf("Latest() = %+v, %v", latest, ok)
	}
}

func TestSortSamples_StableForTies(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	samples := []Sample{
		{Timestamp: base.Add(2 * time.Second), Cars: 3},
		{Timestamp: base, Cars: 1},
		{Timestamp: base, Cars: 2},
	}
	SortSamples(samples)

	want := []int{1, 2, 3}
	for i, s := range samples {
		if s.Cars != want[i] {
			t.Fatalf("position %d has cars=%d, want %d", i, s.Cars, want[i])
		}
	}
}

func TestLastN(t *testing.T) {
	samples := []Sample{{Cars: 1}, {Cars: 2}, {Cars: 3}}

	got := LastN(samples, 2)
	if len(got) != 2 || got[0].Cars != 2 || got[1].Cars != 3 {
		t.Errorf("LastN(2) = %+v", got)
	}
	if got := LastN(samples, 10); len(got) != 3 {
		t.Errorf("LastN(10) returned %d samples, want 3", len(got))
	}
	if got := LastN(samples, 0); len(got) != 0 {
		t.Errorf("LastN(0) returned %d samples, want 0", len(got))
	}

	got[0].Cars = 99
	if samples[1].Cars != 2 {
		t.Error("LastN must return a copy")
	}
}
