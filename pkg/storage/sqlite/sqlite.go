package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// Storage keeps corridor sample history in a single SQLite file.
type Storage struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// New opens (and migrates) the SQLite database at path.
func New(path string) (*Storage, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Storage{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		corridor TEXT NOT NULL,
		camera TEXT NOT NULL DEFAULT '',
		ts INTEGER NOT NULL,
		cars INTEGER NOT NULL,
		buses INTEGER NOT NULL,
		trucks INTEGER NOT NULL,
		PRIMARY KEY (corridor, ts, camera)
	);

	CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(ts);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Write upserts samples for a corridor in one transaction
func (s *Storage) Write(ctx context.Context, corridor traffic.CorridorID, samples []traffic.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO samples (corridor, camera, ts, cars, buses, trucks)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx, string(corridor), string(sample.CameraID),
			sample.Timestamp.UnixNano(), sample.Cars, sample.Buses, sample.Trucks); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples: %w", err)
	}
	return nil
}

// Query returns the corridor's samples in the time range, oldest first
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]traffic.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT camera, ts, cars, buses, trucks FROM samples WHERE corridor = ?`
	args := []any{string(req.Corridor)}
	if !req.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, req.Start.UnixNano())
	}
	if !req.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, req.End.UnixNano())
	}
	// Newest first so LIMIT keeps the latest rows, reversed below
	query += ` ORDER BY ts DESC, rowid DESC`
	if req.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, req.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var results []traffic.Sample
	for rows.Next() {
		var (
			camera string
			ts     int64
			sample traffic.Sample
		)
		if err := rows.Scan(&camera, &ts, &sample.Cars, &sample.Buses, &sample.Trucks); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		sample.CameraID = traffic.CameraID(camera)
		sample.Timestamp = time.Unix(0, ts)
		results = append(results, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}

	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// Delete removes samples older than the given time
func (s *Storage) Delete(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM samples WHERE ts < ?`, before.UnixNano()); err != nil {
		return fmt.Errorf("failed to delete samples: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.conn.Close()
}

// Stats returns row counts, time range and file size
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		total, corridors int64
		oldest, newest   sql.NullInt64
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT corridor), MIN(ts), MAX(ts) FROM samples`,
	).Scan(&total, &corridors, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	stats := &storage.Stats{
		Backend:        "sqlite",
		TotalSamples:   uint64(total),
		TotalCorridors: uint64(corridors),
	}
	if oldest.Valid {
		stats.OldestSample = time.Unix(0, oldest.Int64)
	}
	if newest.Valid {
		stats.NewestSample = time.Unix(0, newest.Int64)
	}
	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = uint64(info.Size())
	}
	return stats, nil
}
