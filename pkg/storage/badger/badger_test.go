package badger

import (
	"context"
	"testing"
	"time"

	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

func newTestStore(t *testing.T) *Storage {
	t.Helper()
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStorage_WriteAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	samples := []traffic.Sample{
		{Timestamp: now, CameraID: "R11_140", Cars: 21, Buses: 1},
		{Timestamp: now, CameraID: "R11_141", Cars: 17},
		{Timestamp: now.Add(time.Second), CameraID: "R11_140", Cars: 24, Trucks: 2},
	}
	if err := store.Write(ctx, "i-495-lie", samples); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Write(ctx, "i-678-van-wyck", samples[:1]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	results, err := store.Query(ctx, storage.QueryRequest{Corridor: "i-495-lie"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	// Same timestamp on two cameras keeps both rows
	if len(results) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(results))
	}
	if results[2].Cars != 24 || results[2].Trucks != 2 {
		t.Errorf("Expected newest sample last, got %+v", results[2])
	}
}

func TestBadgerStorage_QueryRangeAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	var samples []traffic.Sample
	for i := 0; i < 10; i++ {
		samples = append(samples, traffic.Sample{Timestamp: now.Add(time.Duration(i) * time.Second), Cars: i})
	}
	if err := store.Write(ctx, "c", samples); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	results, err := store.Query(ctx, storage.QueryRequest{
		Corridor: "c",
		Start:    now.Add(2 * time.Second),
		End:      now.Add(6 * time.Second),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 5 || results[0].Cars != 2 || results[4].Cars != 6 {
		t.Errorf("Expected cars 2..6, got %+v", results)
	}

	results, err = store.Query(ctx, storage.QueryRequest{Corridor: "c", Limit: 3})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 3 || results[0].Cars != 7 || results[2].Cars != 9 {
		t.Errorf("Expected newest 3 samples, got %+v", results)
	}
}

func TestBadgerStorage_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()
	now := time.Now()

	// Write to first instance
	{
		store, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		if err := store.Write(ctx, "grand-central-parkway", []traffic.Sample{{Timestamp: now, Cars: 19}}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		store.Close()
	}

	// Read from second instance (reopens same directory)
	{
		store, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to reopen storage: %v", err)
		}
		defer store.Close()

		results, err := store.Query(ctx, storage.QueryRequest{Corridor: "grand-central-parkway"})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(results) != 1 || results[0].Cars != 19 {
			t.Errorf("Expected 1 persisted sample with 19 cars, got %+v", results)
		}
	}
}

func TestBadgerStorage_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	samples := []traffic.Sample{
		{Timestamp: now.Add(-3 * time.Hour), Cars: 1},
		{Timestamp: now.Add(-2 * time.Hour), Cars: 2},
		{Timestamp: now, Cars: 3},
	}
	if err := store.Write(ctx, "c", samples); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := store.Delete(ctx, now.Add(-1*time.Hour)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	results, err := store.Query(ctx, storage.QueryRequest{Corridor: "c"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].Cars != 3 {
		t.Errorf("Expected only the recent sample after deletion, got %+v", results)
	}
}

func TestBadgerStorage_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Write(ctx, "a", []traffic.Sample{{Timestamp: now.Add(-1 * time.Hour), Cars: 1}, {Timestamp: now, Cars: 2}}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Write(ctx, "b", []traffic.Sample{{Timestamp: now, Cars: 3}}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalSamples != 3 {
		t.Errorf("Expected 3 total samples, got %d", stats.TotalSamples)
	}
	if stats.TotalCorridors != 2 {
		t.Errorf("Expected 2 corridors, got %d", stats.TotalCorridors)
	}
	if !stats.OldestSample.Equal(now.Add(-1 * time.Hour)) {
		t.Errorf("Unexpected oldest sample: %v", stats.OldestSample)
	}
}

func TestBadgerStorage_ConcurrentOperations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			store.Write(ctx, "c", []traffic.Sample{{Timestamp: now.Add(time.Duration(id) * time.Second), Cars: id}})
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	results, err := store.Query(ctx, storage.QueryRequest{Corridor: "c"})
	if err != nil {
		t.Fatalf("Final query failed: %v", err)
	}
	if len(results) != 10 {
		t.Errorf("Expected 10 samples after concurrent writes, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Timestamp.Before(results[i-1].Timestamp) {
			t.Fatalf("Results out of order at %d", i)
		}
	}
}

func TestBadgerStorage_PreEpochOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Write(ctx, "c", []traffic.Sample{{Timestamp: recent, Cars: 2}, {Timestamp: old, Cars: 1}}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	results, err := store.Query(ctx, storage.QueryRequest{Corridor: "c"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 || results[0].Cars != 1 {
		t.Errorf("Expected pre-epoch sample first, got %+v", results)
	}
}
