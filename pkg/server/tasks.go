package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/server/monitor"
	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/storage/badger"
	"github.com/nicktill/corridorpulse/pkg/telemetry"
)

// Retention retry policy. Vars so tests can shorten them.
var (
	retentionMaxRetries = 3
	retentionBaseDelay  = 30 * time.Second
)

// Retention prunes mirror history older than a fixed age. The in-memory
// windows are never touched.
type Retention struct {
	mirror  storage.Storage
	maxAge  time.Duration
	monitor *monitor.TaskMonitor
	now     func() time.Time
}

// NewRetention creates a retention job. maxAge <= 0 uses config.DefaultRetention.
func NewRetention(mirror storage.Storage, maxAge time.Duration, tm *monitor.TaskMonitor) *Retention {
	if maxAge <= 0 {
		maxAge = config.DefaultRetention
	}
	return &Retention{mirror: mirror, maxAge: maxAge, monitor: tm, now: time.Now}
}

// RunOnce deletes everything older than the retention age.
func (r *Retention) RunOnce(ctx context.Context) error {
	cutoff := r.now().Add(-r.maxAge)
	if err := r.mirror.Delete(ctx, cutoff); err != nil {
		return fmt.Errorf("failed to prune mirror before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return nil
}

// runWithRetry runs the job with exponential backoff: 30s, 60s, 120s.
// It returns false if stop closed while waiting.
func (r *Retention) runWithRetry(ctx context.Context, isInitial bool, stop <-chan bool) bool {
	for attempt := 0; attempt <= retentionMaxRetries; attempt++ {
		if attempt > 0 {
			delay := retentionBaseDelay * time.Duration(1<<(attempt-1))
			log.Printf("Retrying retention in %v (attempt %d/%d)...", delay, attempt+1, retentionMaxRetries+1)
			select {
			case <-time.After(delay):
			case <-stop:
				return false
			}
		}

		start := time.Now()
		err := r.RunOnce(ctx)
		if err == nil {
			r.monitor.RecordSuccess()
			telemetry.RetentionRuns.WithLabelValues("success").Inc()
			if isInitial {
				log.Printf("Initial retention completed in %v", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("Retention completed in %v (history older than %v removed)", time.Since(start).Round(time.Millisecond), r.maxAge)
			}
			return true
		}

		r.monitor.RecordFailure(err)
		telemetry.RetentionRuns.WithLabelValues("failure").Inc()
		log.Printf("Retention failed (attempt %d/%d): %v", attempt+1, retentionMaxRetries+1, err)

		if status := r.monitor.Status(); status.ConsecutiveErrors > monitor.DefaultMaxFailures {
			log.Printf("ALERT: Retention has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
		}
	}

	log.Printf("Retention failed after %d attempts, will retry on next schedule", retentionMaxRetries+1)
	return true
}

// RunRetention runs the retention job on startup and then every interval until stop closes.
func RunRetention(r *Retention, interval time.Duration, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	if interval <= 0 {
		interval = config.RetentionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Println("Running initial mirror retention...")
	if !r.runWithRetry(context.Background(), true, stop) {
		log.Println("Stopping retention scheduler")
		return
	}

	for {
		select {
		case <-ticker.C:
			log.Println("Scheduled retention started...")
			if !r.runWithRetry(context.Background(), false, stop) {
				log.Println("Stopping retention scheduler")
				return
			}
		case <-stop:
			log.Println("Stopping retention scheduler")
			return
		}
	}
}

// RunBadgerGC runs BadgerDB value-log GC periodically to reclaim disk space.
// It returns immediately for other backends.
func RunBadgerGC(store storage.Storage, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Rewrite a value log file once half of it is garbage
			if err := badgerStore.RunGC(0.5); err != nil {
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-stop:
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
