package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/nicktill/corridorpulse/pkg/storage/csvfile"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// MaxImportBatchSize is the maximum number of samples appended at once
const MaxImportBatchSize = 1000

// Ingester accepts samples for one camera.
type Ingester interface {
	Ingest(ctx context.Context, camera traffic.CameraID, samples []traffic.Sample) (traffic.CorridorID, error)
}

// Importer appends samples from export files
type Importer struct {
	sink Ingester
}

// NewImporter creates a new importer
func NewImporter(sink Ingester) *Importer {
	return &Importer{sink: sink}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	SamplesImported int                  `json:"samples_imported"`
	BatchesWritten  int                  `json:"batches_written"`
	Corridors       []traffic.CorridorID `json:"corridors"`
	TimeRange       string               `json:"time_range"`
	ImportedAt      time.Time            `json:"imported_at"`
	Errors          []string             `json:"errors,omitempty"`
}

// ImportFromCSV imports ts,cars,buses,trucks[,camera] rows. Rows without a
// camera are attributed to camera.
func (im *Importer) ImportFromCSV(ctx context.Context, camera traffic.CameraID, r io.Reader) (*ImportResult, error) {
	samples, err := csvfile.ReadSamples(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode CSV: %w", err)
	}
	return im.importSamples(ctx, camera, samples), nil
}

// ImportFromJSON imports a JSON export. Samples without a camera are
// attributed to camera.
func (im *Importer) ImportFromJSON(ctx context.Context, camera traffic.CameraID, r io.Reader) (*ImportResult, error) {
	var data ExportData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return im.importSamples(ctx, camera, data.Samples), nil
}

// importSamples groups samples by camera and appends them in batches.
// Invalid samples and unknown cameras are reported, not fatal.
func (im *Importer) importSamples(ctx context.Context, fallback traffic.CameraID, samples []traffic.Sample) *ImportResult {
	result := &ImportResult{ImportedAt: time.Now(), TimeRange: "empty"}

	byCamera := make(map[traffic.CameraID][]traffic.Sample)
	for i, s := range samples {
		if s.CameraID == "" {
			s.CameraID = fallback
		}
		if s.CameraID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("sample %d: no camera", i))
			continue
		}
		if err := traffic.ValidateSample(s); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("sample %d: %v", i, err))
			continue
		}
		byCamera[s.CameraID] = append(byCamera[s.CameraID], s)
	}

	cameras := make([]traffic.CameraID, 0, len(byCamera))
	for camera := range byCamera {
		cameras = append(cameras, camera)
	}
	sort.Slice(cameras, func(i, j int) bool { return cameras[i] < cameras[j] })

	seen := make(map[traffic.CorridorID]bool)
	var minTime, maxTime time.Time
	for _, camera := range cameras {
		batch := byCamera[camera]
		for i := 0; i < len(batch); i += MaxImportBatchSize {
			end := min(i+MaxImportBatchSize, len(batch))

			corridor, err := im.sink.Ingest(ctx, camera, batch[i:end])
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("camera %s: %v", camera, err))
				break
			}
			result.BatchesWritten++
			result.SamplesImported += end - i
			if !seen[corridor] {
				seen[corridor] = true
				result.Corridors = append(result.Corridors, corridor)
			}

			for _, s := range batch[i:end] {
				if minTime.IsZero() || s.Timestamp.Before(minTime) {
					minTime = s.Timestamp
				}
				if s.Timestamp.After(maxTime) {
					maxTime = s.Timestamp
				}
			}
		}
	}

	if result.SamplesImported > 0 {
		result.TimeRange = fmt.Sprintf("%s to %s", minTime.Format(time.RFC3339), maxTime.Format(time.RFC3339))
	}
	return result
}
