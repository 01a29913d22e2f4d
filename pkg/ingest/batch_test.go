package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBatcher_FlushOnSize(t *testing.T) {
	ingester := newFakeIngester()
	b := NewBatcher(ingester, BatchConfig{MaxBatchSize: 3, FlushEvery: time.Hour})
	b.Start(context.Background())
	defer b.Stop()

	b.Add("R11_159", samplesOf(1, 2))
	require.Equal(t, 2, b.Pending())
	require.Zero(t, ingester.count("R11_159"))

	b.Add("R11_140", samplesOf(3))

	require.Eventually(t, func() bool {
		return ingester.count("R11_159") == 2 && ingester.count("R11_140") == 1
	}, time.Second, 10*time.Millisecond)
	require.Zero(t, b.Pending())
}

func TestBatcher_FlushOnInterval(t *testing.T) {
	ingester := newFakeIngester()
	b := NewBatcher(ingester, BatchConfig{MaxBatchSize: 1000, FlushEvery: 20 * time.Millisecond})
	b.Start(context.Background())
	defer b.Stop()

	b.Add("R11_159", samplesOf(7))

	require.Eventually(t, func() bool {
		return ingester.count("R11_159") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBatcher_StopFlushesRemaining(t *testing.T) {
	ingester := newFakeIngester()
	b := NewBatcher(ingester, BatchConfig{MaxBatchSize: 1000, FlushEvery: time.Hour})
	b.Start(context.Background())

	b.Add("R11_159", samplesOf(1, 2, 3))
	require.NoError(t, b.Stop())
	require.Equal(t, 3, ingester.count("R11_159"))
}

func TestBatcher_StopWithoutStart(t *testing.T) {
	ingester := newFakeIngester()
	b := NewBatcher(ingester, BatchConfig{})

	b.Add("R11_159", samplesOf(1))
	b.Add("R11_159", nil)
	require.NoError(t, b.Stop())
	require.Equal(t, 1, ingester.count("R11_159"))
}

func TestBatcher_FlushReportsFailures(t *testing.T) {
	ingester := newFakeIngester()
	ingester.err = errors.New("unknown camera")
	b := NewBatcher(ingester, BatchConfig{MaxBatchSize: 1000, FlushEvery: time.Hour})

	b.Add("a", samplesOf(1))
	b.Add("b", samplesOf(2))

	err := b.Flush()
	require.Error(t, err)
	require.Contains(t, err.Error(), "camera a")
	require.Contains(t, err.Error(), "camera b")
	require.Zero(t, b.Pending())
}
