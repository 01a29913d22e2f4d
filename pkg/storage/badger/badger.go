package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

const keySize = 24

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly defaults)
	MaxMemoryMB int64
}

// record is the stored value. The corridor id is kept so Stats can report it;
// the key only carries its hash.
type record struct {
	Corridor traffic.CorridorID `json:"corridor"`
	Sample   traffic.Sample     `json:"sample"`
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	// Default: 16 MB memtable, enough for sample rows without excessive flushes
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	}

	// Block and index caches are unbounded unless set explicitly
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // 64 MB value log files instead of 2 GB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// Write stores samples under the corridor's key prefix.
// Rewriting the same (timestamp, camera) replaces the stored row.
func (s *Storage) Write(ctx context.Context, corridor traffic.CorridorID, samples []traffic.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for i, sample := range samples {
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				value, err := json.Marshal(record{Corridor: corridor, Sample: sample})
				if err != nil {
					return fmt.Errorf("failed to encode sample: %w", err)
				}
				if err := txn.Set(makeKey(corridor, sample), value); err != nil {
					return fmt.Errorf("failed to write sample: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Query scans the corridor's key prefix from the requested start time
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
		var res queryResult
		startTime := time.Now()
		var iterCount int

		res.err = s.db.View(func(txn *badger.Txn) error {
			prefix := corridorPrefix(req.Corridor)
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchSize = 100

			it := txn.NewIterator(opts)
			defer it.Close()

			seek := prefix
			if !req.Start.IsZero() {
				seek = make([]byte, 16)
				copy(seek, prefix)
				binary.BigEndian.PutUint64(seek[8:16], encodeTS(req.Start))
			}

			for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				ts := parseKeyTime(it.Item().Key())
				if !req.End.IsZero() && ts.After(req.End) {
					break
				}

				err := it.Item().Value(func(val []byte) error {
					var rec record
					if err := json.Unmarshal(val, &rec); err != nil {
						return fmt.Errorf("failed to decode sample: %w", err)
					}
					res.samples = append(res.samples, rec.Sample)
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})

		if elapsed := time.Since(startTime); elapsed > 5*time.Second {
			log.Printf("Slow badger query for %s: %v (%d iterations)", req.Corridor, elapsed, iterCount)
		}

		res.samples = storage.Newest(res.samples, req.Limit)
		done <- res
	}()

	select {
	case res := <-done:
		return res.samples, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// Delete removes samples older than the given time across all corridors
func (s *Storage) Delete(ctx context.Context, before time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		var keysToDelete [][]byte

		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				key := it.Item().Key()
				if len(key) != keySize {
					continue
				}
				if parseKeyTime(key).Before(before) {
					keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
				}
			}
			return nil
		})
		if err != nil {
			done <- err
			return
		}

		// WriteBatch splits large deletions across transactions
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range keysToDelete {
			if err := wb.Delete(key); err != nil {
				done <- fmt.Errorf("failed to delete sample: %w", err)
				return
			}
		}
		done <- wb.Flush()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// discardRatio: run GC if this fraction of a file can be discarded (0.5 = 50%).
// Returns badger.ErrNoRewrite when there was nothing to collect.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		stats := &storage.Stats{Backend: "badger"}

		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			var lastPrefix []byte
			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				key := it.Item().Key()
				if len(key) != keySize {
					continue
				}
				stats.TotalSamples++
				stats.Observe(parseKeyTime(key))

				// Keys are sorted, so a new prefix is a new corridor
				if !bytes.Equal(lastPrefix, key[0:8]) {
					stats.TotalCorridors++
					lastPrefix = append(lastPrefix[:0], key[0:8]...)
				}
			}
			return nil
		})

		if err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}
		done <- statsResult{stats: stats, err: err}
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// makeKey creates a sortable key: corridor hash + timestamp + camera hash
// Format: [corridor_hash (8 bytes)][timestamp (8 bytes)][camera_hash (8 bytes)]
func makeKey(corridor traffic.CorridorID, sample traffic.Sample) []byte {
	key := make([]byte, keySize)
	copy(key, corridorPrefix(corridor))
	binary.BigEndian.PutUint64(key[8:16], encodeTS(sample.Timestamp))
	binary.BigEndian.PutUint64(key[16:24], xxhash.Sum64String(string(sample.CameraID)))
	return key
}

func corridorPrefix(corridor traffic.CorridorID) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, xxhash.Sum64String(string(corridor)))
	return prefix
}

// encodeTS flips the sign bit so pre-1970 timestamps still sort before later ones.
func encodeTS(ts time.Time) uint64 {
	return uint64(ts.UnixNano()) ^ (1 << 63)
}

func parseKeyTime(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[8:16])^(1<<63)))
}
