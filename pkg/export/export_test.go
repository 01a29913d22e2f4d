package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/corridorpulse/pkg/directory"
	"github.com/nicktill/corridorpulse/pkg/storage/memory"
	"github.com/nicktill/corridorpulse/pkg/traffic"
	"github.com/nicktill/corridorpulse/pkg/window"
)

const lie = traffic.CorridorID("i-495-lie")

var base = time.Date(2025, 3, 14, 17, 0, 0, 0, time.UTC)

// catalogSink appends to a window store through the default catalog
type catalogSink struct {
	dir   *directory.Directory
	store *window.Store
}

func (s catalogSink) Ingest(ctx context.Context, camera traffic.CameraID, samples []traffic.Sample) (traffic.CorridorID, error) {
	corridor := s.dir.ResolveCorridor(camera)
	if corridor == directory.UnknownCorridor {
		return corridor, fmt.Errorf("unknown camera %q", camera)
	}
	return corridor, s.store.Append(ctx, corridor, samples)
}

type testEnv struct {
	dir     *directory.Directory
	store   *window.Store
	history *memory.Storage
	sink    catalogSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir, err := directory.Default()
	require.NoError(t, err)

	history := memory.New()
	store := window.New(window.Config{Size: 5, Mirror: history})
	return &testEnv{dir: dir, store: store, history: history, sink: catalogSink{dir: dir, store: store}}
}

func samplesOf(camera traffic.CameraID, cars ...int) []traffic.Sample {
	out := make([]traffic.Sample, len(cars))
	for i, c := range cars {
		out[i] = traffic.Sample{Timestamp: base.Add(time.Duration(i) * time.Minute), CameraID: camera, Cars: c, Buses: 1}
	}
	return out
}

func TestExportToJSON(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.Append(ctx, lie, samplesOf("R11_140", 10, 12, 14)))

	exporter := NewExporter(env.store, env.history)
	buf := &bytes.Buffer{}

	result, err := exporter.ExportToJSON(ctx, buf, ExportOptions{Corridor: lie, Format: "json"})
	require.NoError(t, err)
	require.Equal(t, 3, result.SamplesExported)
	require.Equal(t, SourceWindow, result.Source)

	var data ExportData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
	require.Equal(t, lie, data.Metadata.Corridor)
	require.Equal(t, 3, data.Metadata.SampleCount)
	require.Equal(t, FormatVersion, data.Metadata.Version)
	require.Len(t, data.Samples, 3)
	require.Equal(t, 14, data.Samples[2].Cars)
}

func TestExportToCSV(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.Append(ctx, lie, samplesOf("R11_140", 10, 12)))

	buf := &bytes.Buffer{}
	result, err := NewExporter(env.store, nil).ExportToCSV(ctx, buf, ExportOptions{Corridor: lie, Format: "csv"})
	require.NoError(t, err)
	require.Equal(t, 2, result.SamplesExported)

	records, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, []string{"ts", "cars", "buses", "trucks", "camera"}, records[0])
	require.Equal(t, []string{base.Format(time.RFC3339Nano), "10", "1", "0", "R11_140"}, records[1])
}

func TestExportHistoryOutlivesWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.Append(ctx, lie, samplesOf("R11_140", 1, 2, 3, 4, 5, 6, 7, 8)))

	exporter := NewExporter(env.store, env.history)

	windowResult, err := exporter.ExportToJSON(ctx, &bytes.Buffer{}, ExportOptions{Corridor: lie})
	require.NoError(t, err)
	require.Equal(t, 5, windowResult.SamplesExported)

	// The memory mirror holds the same latest window; a time bound narrows it
	historyResult, err := exporter.ExportToJSON(ctx, &bytes.Buffer{}, ExportOptions{
		Corridor: lie,
		Source:   SourceHistory,
		Start:    base.Add(6 * time.Minute),
	})
	require.NoError(t, err)
	require.Equal(t, SourceHistory, historyResult.Source)
	require.Equal(t, 2, historyResult.SamplesExported)

	_, err = NewExporter(env.store, nil).ExportToJSON(ctx, &bytes.Buffer{}, ExportOptions{Corridor: lie, Source: SourceHistory})
	require.Error(t, err)
}

func TestExportEmptyWindow(t *testing.T) {
	env := newTestEnv(t)
	buf := &bytes.Buffer{}

	result, err := NewExporter(env.store, nil).ExportToJSON(context.Background(), buf, ExportOptions{Corridor: lie})
	require.NoError(t, err)
	require.Zero(t, result.SamplesExported)
	require.Contains(t, buf.String(), `"samples": []`)
}

func TestImportFromCSV(t *testing.T) {
	env := newTestEnv(t)
	importer := NewImporter(env.sink)

	body := strings.Join([]string{
		"ts,cars,buses,trucks",
		base.Format(time.RFC3339) + ",11,0,1",
		base.Add(time.Minute).Format(time.RFC3339) + ",13,2,0",
	}, "\n")

	result, err := importer.ImportFromCSV(context.Background(), "R11_140", strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, 2, result.SamplesImported)
	require.Equal(t, []traffic.CorridorID{lie}, result.Corridors)
	require.Empty(t, result.Errors)

	window := env.store.LatestWindow(lie)
	require.Equal(t, []float64{11, 13}, window.Cars())
	require.Equal(t, traffic.CameraID("R11_140"), window.Samples[0].CameraID)

	_, err = importer.ImportFromCSV(context.Background(), "R11_140", strings.NewReader("ts,cars\nnot-a-time,1"))
	require.Error(t, err)
}

func TestImportFromJSON_RoundTrip(t *testing.T) {
	source := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, source.store.Append(ctx, lie, samplesOf("R11_140", 20, 21, 22)))

	buf := &bytes.Buffer{}
	_, err := NewExporter(source.store, nil).ExportToJSON(ctx, buf, ExportOptions{Corridor: lie})
	require.NoError(t, err)

	target := newTestEnv(t)
	result, err := NewImporter(target.sink).ImportFromJSON(ctx, "", buf)
	require.NoError(t, err)
	require.Equal(t, 3, result.SamplesImported)
	want, got := source.store.LatestWindow(lie), target.store.LatestWindow(lie)
	require.Equal(t, want.Cars(), got.Cars())
	for i := range want.Samples {
		require.True(t, want.Samples[i].Timestamp.Equal(got.Samples[i].Timestamp))
		require.Equal(t, want.Samples[i].CameraID, got.Samples[i].CameraID)
	}
}

func TestImportValidation(t *testing.T) {
	env := newTestEnv(t)

	data := ExportData{Samples: []traffic.Sample{
		{Timestamp: base, CameraID: "R11_140", Cars: 3},
		{Timestamp: base, CameraID: "R11_140", Cars: -3},
		{CameraID: "R11_140", Cars: 3},
		{Timestamp: base, CameraID: "nowhere", Cars: 3},
		{Timestamp: base, Cars: 3},
	}}
	body, err := json.Marshal(data)
	require.NoError(t, err)

	result, err := NewImporter(env.sink).ImportFromJSON(context.Background(), "", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, 1, result.SamplesImported)
	require.Len(t, result.Errors, 4)
}
