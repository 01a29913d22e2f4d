package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/storage/csvfile"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// Export sources
const (
	SourceWindow  = "window"
	SourceHistory = "history"
)

// FormatVersion is written into every JSON export
const FormatVersion = "1.0"

// WindowSource returns a copy of a corridor's current window.
type WindowSource interface {
	LatestWindow(corridor traffic.CorridorID) traffic.Window
}

// Exporter handles exporting corridor samples to various formats
type Exporter struct {
	windows WindowSource
	history storage.Storage
}

// NewExporter creates a new exporter. history may be nil, in which case only
// window exports are available.
func NewExporter(windows WindowSource, history storage.Storage) *Exporter {
	return &Exporter{windows: windows, history: history}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	Corridor traffic.CorridorID

	// Source: SourceWindow (default) or SourceHistory
	Source string

	// Time range for history exports (zero = unbounded)
	Start time.Time
	End   time.Time

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	SamplesExported int                `json:"samples_exported"`
	Corridor        traffic.CorridorID `json:"corridor"`
	Source          string             `json:"source"`
	Format          string             `json:"format"`
	ExportedAt      time.Time          `json:"exported_at"`
}

// Metadata describes a JSON export
type Metadata struct {
	ExportedAt  time.Time          `json:"exported_at"`
	Corridor    traffic.CorridorID `json:"corridor"`
	Source      string             `json:"source"`
	SampleCount int                `json:"sample_count"`
	Format      string             `json:"format"`
	Version     string             `json:"version"`
}

// ExportData is the JSON export document, also accepted by the importer
type ExportData struct {
	Metadata Metadata         `json:"metadata"`
	Samples  []traffic.Sample `json:"samples"`
}

// ExportToJSON exports the corridor's samples as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	samples, source, err := e.samples(ctx, opts)
	if err != nil {
		return nil, err
	}
	if samples == nil {
		samples = []traffic.Sample{}
	}

	data := ExportData{
		Metadata: Metadata{
			ExportedAt:  time.Now(),
			Corridor:    opts.Corridor,
			Source:      source,
			SampleCount: len(samples),
			Format:      "json",
			Version:     FormatVersion,
		},
		Samples: samples,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		SamplesExported: len(samples),
		Corridor:        opts.Corridor,
		Source:          source,
		Format:          "json",
		ExportedAt:      data.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV exports the corridor's samples as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	samples, source, err := e.samples(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := csvfile.WriteSamples(w, samples, true); err != nil {
		return nil, err
	}

	return &ExportResult{
		SamplesExported: len(samples),
		Corridor:        opts.Corridor,
		Source:          source,
		Format:          "csv",
		ExportedAt:      time.Now(),
	}, nil
}

// samples reads from the mirror for history exports and from the window otherwise
func (e *Exporter) samples(ctx context.Context, opts ExportOptions) ([]traffic.Sample, string, error) {
	if opts.Source != SourceHistory {
		return e.windows.LatestWindow(opts.Corridor).Samples, SourceWindow, nil
	}
	if e.history == nil {
		return nil, SourceHistory, fmt.Errorf("history export needs a storage backend")
	}

	samples, err := e.history.Query(ctx, storage.QueryRequest{
		Corridor: opts.Corridor,
		Start:    opts.Start,
		End:      opts.End,
	})
	if err != nil {
		return nil, SourceHistory, fmt.Errorf("failed to query history: %w", err)
	}
	return samples, SourceHistory, nil
}
