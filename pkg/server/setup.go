package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/derive"
	"github.com/nicktill/corridorpulse/pkg/detect"
	"github.com/nicktill/corridorpulse/pkg/directory"
	"github.com/nicktill/corridorpulse/pkg/export"
	"github.com/nicktill/corridorpulse/pkg/ingest"
	"github.com/nicktill/corridorpulse/pkg/insight"
	"github.com/nicktill/corridorpulse/pkg/scheduler"
	"github.com/nicktill/corridorpulse/pkg/server/monitor"
	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/storage/badger"
	"github.com/nicktill/corridorpulse/pkg/storage/csvfile"
	"github.com/nicktill/corridorpulse/pkg/storage/memory"
	"github.com/nicktill/corridorpulse/pkg/storage/postgres"
	"github.com/nicktill/corridorpulse/pkg/storage/sqlite"
	"github.com/nicktill/corridorpulse/pkg/window"
)

// Storage backends selectable with STORAGE_BACKEND
const (
	BackendCSV      = "csv"
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// ErrUnknownBackend is returned for an unsupported STORAGE_BACKEND
var ErrUnknownBackend = errors.New("unknown storage backend")

// Config holds server configuration.
type Config struct {
	Port    string
	DataDir string
	Backend string

	MaxStorageGB int64
	MaxMemoryMB  int64

	WindowSize      int
	RefreshInterval time.Duration
	MaxFrames       int
	Retention       time.Duration

	CatalogPath string
	Location    *time.Location

	DatabaseDSN string
	RedisURL    string
	MQTTURL     string
	MQTTTopic   string
}

// MaxStorageBytes returns the storage limit in bytes.
func (c Config) MaxStorageBytes() int64 {
	return c.MaxStorageGB * 1024 * 1024 * 1024
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory is read first when present; real environment
// variables take precedence over it.
func LoadConfig() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	return Config{
		Port:    getPort(),
		DataDir: getEnv("CORRIDORPULSE_DATA_DIR", config.DefaultDataDir),
		Backend: strings.ToLower(getEnv("STORAGE_BACKEND", config.DefaultBackend)),

		MaxStorageGB: getEnvInt64("CORRIDORPULSE_MAX_STORAGE_GB", config.DefaultMaxStorageGB),
		MaxMemoryMB:  getEnvInt64("CORRIDORPULSE_MAX_MEMORY_MB", config.DefaultMaxMemoryMB),

		WindowSize:      getEnvInt("CORRIDORPULSE_WINDOW_SIZE", config.DefaultWindowSize),
		RefreshInterval: getEnvDuration("CORRIDORPULSE_REFRESH_INTERVAL", config.DefaultRefreshInterval),
		MaxFrames:       getEnvInt("CORRIDORPULSE_MAX_FRAMES", config.DefaultMaxFrames),
		Retention:       getEnvDuration("CORRIDORPULSE_RETENTION", config.DefaultRetention),

		CatalogPath: getEnv("CORRIDORPULSE_CATALOG", ""),
		Location:    getLocation("CORRIDORPULSE_TIMEZONE"),

		DatabaseDSN: getEnv("DB_DSN", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		MQTTURL:     getEnv("MQTT_URL", ""),
		MQTTTopic:   getEnv("MQTT_TOPIC", config.DefaultMQTTTopic),
	}
}

// InitializeStorage opens the durable mirror selected by cfg.Backend.
func InitializeStorage(ctx context.Context, cfg Config) (storage.Storage, error) {
	if cfg.Backend != BackendMemory && cfg.Backend != BackendPostgres {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	switch cfg.Backend {
	case BackendCSV, "":
		log.Printf("Initializing CSV mirror in %s...", cfg.DataDir)
		return csvfile.New(cfg.DataDir)
	case BackendMemory:
		log.Println("Initializing in-memory mirror (history is lost on restart)")
		return memory.New(), nil
	case BackendBadger:
		log.Println("Initializing BadgerDB mirror with Snappy compression...")
		return badger.New(badger.Config{
			Path:        cfg.DataDir,
			MaxMemoryMB: cfg.MaxMemoryMB,
		})
	case BackendSQLite:
		path := filepath.Join(cfg.DataDir, "corridorpulse.db")
		log.Printf("Initializing SQLite mirror at %s...", path)
		return sqlite.New(path)
	case BackendPostgres:
		if cfg.DatabaseDSN == "" {
			return nil, fmt.Errorf("postgres backend requires DB_DSN")
		}
		log.Println("Initializing Postgres mirror...")
		return postgres.New(ctx, cfg.DatabaseDSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Components holds everything the server wires together.
type Components struct {
	Directory *directory.Directory
	Windows   *window.Store
	Engine    *derive.Engine
	Scheduler *scheduler.Scheduler
	Service   *insight.Service
	Hub       *ingest.SnapshotHub

	InsightHandler *insight.Handler
	IngestHandler  *ingest.Handler
	ExportHandler  *export.Handler

	Mirror         storage.Storage
	Backend        string
	StorageMonitor *monitor.StorageMonitor
	RefreshMonitor *monitor.TaskMonitor
	RetainMonitor  *monitor.TaskMonitor
}

// InitializeComponents builds the directory, the window store over mirror, the
// derivation engine, the refresh scheduler and every request handler.
// producer may be nil to use the detection simulator.
func InitializeComponents(cfg Config, mirror storage.Storage, producer detect.Producer) (*Components, error) {
	dir, err := loadDirectory(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	log.Printf("Corridor directory loaded: %d corridors, %d cameras", len(dir.Corridors()), len(dir.Cameras()))

	windows := window.New(window.Config{Size: cfg.WindowSize, Mirror: mirror})
	log.Printf("Window store ready (K=%d)", windows.Size())

	engine, err := derive.NewEngine(windows, dir, derive.Config{Location: cfg.Location})
	if err != nil {
		return nil, err
	}

	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = config.DefaultRefreshInterval
	}
	refreshMonitor := monitor.NewTaskMonitor("refresh", 10*interval)
	sched := scheduler.New(engine, dir, scheduler.Config{Interval: interval, Monitor: refreshMonitor})

	hub := ingest.NewSnapshotHub()
	sched.AddPublisher(hub)

	if producer == nil {
		producer = detect.NewSimulator(nil, nil)
	}
	service := insight.NewService(dir, windows, engine, sched, producer, insight.Config{
		MaxFrames: cfg.MaxFrames,
		MaxAge:    2 * interval, // one missed tick before reads recompute
	})

	storageMonitor := monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes())
	ingestHandler := ingest.NewHandler(service)
	ingestHandler.SetStorageChecker(storageMonitor)

	// Only real history backends serve /v1/history and history exports
	var history storage.Storage
	if cfg.Backend != BackendCSV && cfg.Backend != "" {
		history = mirror
	}

	return &Components{
		Directory: dir,
		Windows:   windows,
		Engine:    engine,
		Scheduler: sched,
		Service:   service,
		Hub:       hub,

		InsightHandler: insight.NewHandler(service),
		IngestHandler:  ingestHandler,
		ExportHandler:  export.NewHandler(windows, history, service, service),

		Mirror:         mirror,
		Backend:        cfg.Backend,
		StorageMonitor: storageMonitor,
		RefreshMonitor: refreshMonitor,
		RetainMonitor:  monitor.NewTaskMonitor("retention", 3*config.RetentionInterval),
	}, nil
}

func loadDirectory(path string) (*directory.Directory, error) {
	if path == "" {
		return directory.Default()
	}
	log.Printf("Loading corridor catalog from %s", path)
	return directory.Load(path)
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt gets an int from environment variable or returns default.
func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("5s") or plain seconds ("5").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
	return defaultValue
}

// getLocation returns the named IANA zone, or time.Local.
func getLocation(key string) *time.Location {
	name := os.Getenv(key)
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using local time", key, name)
		return time.Local
	}
	return loc
}

// getPort gets the server port from PORT environment variable or returns default.
func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return config.DefaultPort
}
