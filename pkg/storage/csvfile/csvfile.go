package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// Header is the column layout of a corridor mirror file.
var Header = []string{"ts", "cars", "buses", "trucks"}

// ErrMalformedRow is returned when a CSV row cannot be parsed as a sample
var ErrMalformedRow = errors.New("malformed sample row")

// Storage mirrors each corridor's current window to its own CSV file.
// A Write replaces the whole file, so the file always holds one consistent window.
type Storage struct {
	dir string
	mu  sync.Mutex
}

// New creates a CSV mirror rooted at dir, creating the directory if needed
func New(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create csv dir: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// Path returns the mirror file for a corridor
func (s *Storage) Path(corridor traffic.CorridorID) string {
	return filepath.Join(s.dir, fileName(corridor))
}

// Write replaces the corridor file with samples.
// The file is written to a temp file and renamed so readers never see a partial window.
func (s *Storage) Write(ctx context.Context, corridor traffic.CorridorID, samples []traffic.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		done <- s.writeFile(corridor, samples)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

func (s *Storage) writeFile(corridor traffic.CorridorID, samples []traffic.Sample) error {
	tmp, err := os.CreateTemp(s.dir, ".window-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := WriteSamples(tmp, samples, false); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(corridor)); err != nil {
		return fmt.Errorf("failed to replace window file: %w", err)
	}
	return nil
}

// Query reads the corridor file. An absent or empty file is no data, not an error.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]traffic.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		samples []traffic.Sample
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		samples, err := readFile(s.Path(req.Corridor))
		if err != nil {
			done <- queryResult{err: err}
			return
		}

		var results []traffic.Sample
		for _, sample := range samples {
			if req.Matches(sample.Timestamp) {
				results = append(results, sample)
			}
		}
		done <- queryResult{samples: storage.Newest(results, req.Limit)}
	}()

	select {
	case res := <-done:
		return res.samples, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// Delete is a no-op: each file holds only the current window, which retention never trims.
func (s *Storage) Delete(ctx context.Context, before time.Time) error {
	return ctx.Err()
}

// Close is a no-op for the CSV mirror
func (s *Storage) Close() error {
	return nil
}

// Stats counts corridor files, rows and bytes on disk
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list window files: %w", err)
	}

	stats := &storage.Stats{Backend: "csv"}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		stats.SizeBytes += uint64(info.Size())

		samples, err := readFile(path)
		if err != nil || len(samples) == 0 {
			continue
		}
		stats.TotalCorridors++
		stats.TotalSamples += uint64(len(samples))
		for _, sample := range samples {
			stats.Observe(sample.Timestamp)
		}
	}
	return stats, nil
}

func readFile(path string) ([]traffic.Sample, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open window file: %w", err)
	}
	defer f.Close()

	return ReadSamples(f)
}

// WriteSamples encodes samples as CSV with a header row.
// withCamera appends a fifth "camera" column.
func WriteSamples(w io.Writer, samples []traffic.Sample, withCamera bool) error {
	cw := csv.NewWriter(w)

	header := Header
	if withCamera {
		header = append(append([]string{}, Header...), "camera")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, sample := range samples {
		row := []string{
			sample.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.Itoa(sample.Cars),
			strconv.Itoa(sample.Buses),
			strconv.Itoa(sample.Trucks),
		}
		if withCamera {
			row = append(row, string(sample.CameraID))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// ReadSamples decodes CSV rows of ts,cars,buses,trucks[,camera].
// A leading header row is skipped. Rows are returned in timestamp order.
func ReadSamples(r io.Reader) ([]traffic.Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var samples []traffic.Sample
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line++

		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), Header[0]) {
			continue
		}

		sample, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		samples = append(samples, sample)
	}

	traffic.SortSamples(samples)
	return samples, nil
}

func parseRow(record []string) (traffic.Sample, error) {
	if len(record) != 4 && len(record) != 5 {
		return traffic.Sample{}, fmt.Errorf("%w: want 4 or 5 columns, got %d", ErrMalformedRow, len(record))
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(record[0]))
	if err != nil {
		return traffic.Sample{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedRow, record[0])
	}

	var counts [3]int
	for i := range counts {
		n, err := strconv.Atoi(strings.TrimSpace(record[i+1]))
		if err != nil {
			return traffic.Sample{}, fmt.Errorf("%w: bad %s %q", ErrMalformedRow, Header[i+1], record[i+1])
		}
		counts[i] = n
	}

	sample := traffic.Sample{Timestamp: ts, Cars: counts[0], Buses: counts[1], Trucks: counts[2]}
	if len(record) == 5 {
		sample.CameraID = traffic.CameraID(strings.TrimSpace(record[4]))
	}
	if err := traffic.ValidateSample(sample); err != nil {
		return traffic.Sample{}, err
	}
	return sample, nil
}

// fileName keeps corridor ids readable on disk while the hash keeps distinct ids distinct.
func fileName(corridor traffic.CorridorID) string {
	var b strings.Builder
	for _, r := range string(corridor) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	slug := b.String()
	if len(slug) > 64 {
		slug = slug[:64]
	}
	return fmt.Sprintf("%s-%08x.csv", slug, uint32(xxhash.Sum64String(string(corridor))))
}
