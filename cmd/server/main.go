package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/ingest"
	"github.com/nicktill/corridorpulse/pkg/publish"
	"github.com/nicktill/corridorpulse/pkg/server"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
	startupTimeout     = 15 * time.Second
)

func main() {
	log.Println("🚀 Starting CorridorPulse Server...")

	cfg := server.LoadConfig()
	log.Printf("⚙️  Configuration: backend=%s, K=%d, refresh=%v, storage limit=%d GB",
		cfg.Backend, cfg.WindowSize, cfg.RefreshInterval, cfg.MaxStorageGB)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), startupTimeout)
	defer startupCancel()

	mirror, err := server.InitializeStorage(startupCtx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize storage: %v", err)
	}
	defer mirror.Close()
	log.Printf("💾 %s mirror ready (data dir: %s)", cfg.Backend, cfg.DataDir)

	c, err := server.InitializeComponents(cfg, mirror, nil)
	if err != nil {
		log.Fatalf("❌ Failed to initialize components: %v", err)
	}

	restored := c.Windows.Restore(startupCtx, c.Directory.CorridorIDs())
	log.Printf("📂 Restored %d corridor windows from the mirror", restored)

	var redisPub *publish.Redis
	if cfg.RedisURL != "" {
		redisPub, err = publish.NewRedis(startupCtx, publish.RedisConfig{URL: cfg.RedisURL})
		if err != nil {
			log.Printf("⚠️  Redis unavailable, snapshots will not be published there: %v", err)
		} else {
			c.Scheduler.AddPublisher(redisPub)
			defer redisPub.Close()
			log.Printf("📤 Publishing snapshots to Redis channel %s", redisPub.Channel())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Hub.Run(ctx)
	}()
	log.Println("📡 WebSocket hub started for live snapshots")

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Scheduler.Run(ctx)
	}()

	var batcher *ingest.Batcher
	var subscriber *ingest.MQTTSubscriber
	if cfg.MQTTURL != "" {
		batcher = ingest.NewBatcher(c.Service, ingest.BatchConfig{Source: "mqtt"})
		batcher.Start(ctx)

		subscriber = ingest.NewMQTTSubscriber(ingest.MQTTConfig{BrokerURL: cfg.MQTTURL, Topic: cfg.MQTTTopic}, batcher)
		if err := subscriber.Start(ctx); err != nil {
			log.Printf("⚠️  MQTT ingest disabled: %v", err)
			subscriber = nil
		} else {
			log.Printf("📥 MQTT ingest subscribed to %s", cfg.MQTTTopic)
		}
	}

	stopTasks := make(chan bool)
	if cfg.Backend != server.BackendCSV && cfg.Backend != "" {
		retention := server.NewRetention(mirror, cfg.Retention, c.RetainMonitor)
		wg.Add(1)
		go server.RunRetention(retention, config.RetentionInterval, stopTasks, &wg)
		log.Printf("🧹 Mirror retention enabled (keeps %v, runs every %v)", cfg.Retention, config.RetentionInterval)
	}

	wg.Add(1)
	go server.RunBadgerGC(mirror, stopTasks, &wg)

	router := mux.NewRouter()
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.SetupRoutes(router, c, cfg.Port),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("🌐 Server starting on http://localhost:%s", cfg.Port)
		log.Println("📡 API endpoints:")
		log.Println("   GET  /v1/snapshot?camera=  - Current corridor snapshot")
		log.Println("   POST /v1/detect            - Run detection for a camera")
		log.Println("   POST /v1/select            - Watch a camera")
		log.Println("   POST /v1/samples           - Push samples")
		log.Println("   GET  /v1/export            - Export a corridor")
		log.Println("   GET  /metrics              - Prometheus endpoint")
		log.Println("✅ Server ready to accept requests")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutdown signal received...")

	// Stop accepting requests before the loops they feed
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Println("🔄 Gracefully shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown warning: %v", err)
	}

	if subscriber != nil {
		subscriber.Stop()
	}
	if batcher != nil {
		if err := batcher.Stop(); err != nil {
			log.Printf("⚠️  Some pushed samples were not ingested: %v", err)
		}
	}

	// Cancel before wg.Wait() or the hub and scheduler never return
	log.Println("⏸️  Stopping background tasks...")
	cancel()
	close(stopTasks)

	log.Println("⏳ Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("⚠️  Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("👋 CorridorPulse server exited cleanly")
}
