package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

const schema = `
CREATE TABLE IF NOT EXISTS corridor_samples (
	corridor TEXT NOT NULL,
	camera TEXT NOT NULL DEFAULT '',
	ts TIMESTAMPTZ NOT NULL,
	cars INTEGER NOT NULL,
	buses INTEGER NOT NULL,
	trucks INTEGER NOT NULL,
	PRIMARY KEY (corridor, ts, camera)
);
CREATE INDEX IF NOT EXISTS idx_corridor_samples_ts ON corridor_samples (ts);
`

// Storage keeps corridor sample history in PostgreSQL through a pgx pool.
type Storage struct {
	pool *pgxpool.Pool
}

// New connects to dsn, pings the server and creates the schema.
func New(ctx context.Context, dsn string) (*Storage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	return &Storage{pool: pool}, nil
}

// Write inserts samples in one batch. Rows already stored are left untouched.
func (s *Storage) Write(ctx context.Context, corridor traffic.CorridorID, samples []traffic.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(`
			INSERT INTO corridor_samples (corridor, camera, ts, cars, buses, trucks)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (corridor, ts, camera) DO NOTHING
		`, string(corridor), string(sample.CameraID), sample.Timestamp.UTC(), sample.Cars, sample.Buses, sample.Trucks)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert samples: %w", err)
	}
	return nil
}

// Query returns the corridor's samples in the time range, oldest first
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]traffic.Sample, error) {
	query := `SELECT camera, ts, cars, buses, trucks FROM corridor_samples WHERE corridor = $1`
	args := []any{string(req.Corridor)}
	if !req.Start.IsZero() {
		args = append(args, req.Start.UTC())
		query += fmt.Sprintf(` AND ts >= $%d`, len(args))
	}
	if !req.End.IsZero() {
		args = append(args, req.End.UTC())
		query += fmt.Sprintf(` AND ts <= $%d`, len(args))
	}
	query += ` ORDER BY ts DESC`
	if req.Limit > 0 {
		args = append(args, req.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var results []traffic.Sample
	for rows.Next() {
		var (
			camera string
			sample traffic.Sample
		)
		if err := rows.Scan(&camera, &sample.Timestamp, &sample.Cars, &sample.Buses, &sample.Trucks); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		sample.CameraID = traffic.CameraID(camera)
		results = append(results, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}

	// Rows arrive newest first so LIMIT keeps the latest ones
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// Delete removes samples older than the given time
func (s *Storage) Delete(ctx context.Context, before time.Time) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM corridor_samples WHERE ts < $1`, before.UTC()); err != nil {
		return fmt.Errorf("failed to delete samples: %w", err)
	}
	return nil
}

// Close releases the pool
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Stats returns row counts, time range and table size
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	var (
		total, corridors, size int64
		oldest, newest         *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT corridor), MIN(ts), MAX(ts),
		       pg_total_relation_size('corridor_samples')
		FROM corridor_samples
	`).Scan(&total, &corridors, &oldest, &newest, &size)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	stats := &storage.Stats{
		Backend:        "postgres",
		TotalSamples:   uint64(total),
		TotalCorridors: uint64(corridors),
		SizeBytes:      uint64(size),
	}
	if oldest != nil {
		stats.OldestSample = *oldest
	}
	if newest != nil {
		stats.NewestSample = *newest
	}
	return stats, nil
}
