package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data/corridorpulse"
	DefaultBackend      = "csv"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
)

// Window and refresh defaults
const (
	DefaultWindowSize      = 5
	MaxWindowSize          = 500
	DefaultRefreshInterval = 5 * time.Second
	DefaultMaxFrames       = 30
	MaxFramesLimit         = 600
)

// Store timeouts. A mirror call that exceeds these is treated as a transient fault.
const (
	StoreTimeout        = 2 * time.Second
	StoreRestoreTimeout = 10 * time.Second
	DetectionTimeout    = 15 * time.Second
)

// Retention and maintenance intervals
const (
	DefaultRetention  = 24 * time.Hour
	RetentionInterval = 1 * time.Hour
	BadgerGCInterval  = 10 * time.Minute
)

// Push ingest defaults
const (
	IngestTimeout    = 5 * time.Second
	IngestBatchSize  = 100
	IngestFlushEvery = 2 * time.Second
)

// Export defaults
const (
	DefaultExportFormat = "json"
	MaxImportBytes      = 4 << 20
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Messaging defaults
const (
	DefaultMQTTTopic       = "corridorpulse/samples/+"
	RedisSnapshotChannel   = "corridorpulse:snapshots"
	RedisSnapshotKeyPrefix = "corridorpulse:snapshot:"
	RedisSnapshotTTL       = 10 * time.Minute
)
