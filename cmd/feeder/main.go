// Command feeder pushes simulated camera samples to a corridorpulse server.
//
// Environment:
//
//	FEED_ENDPOINT  HTTP push endpoint (default http://localhost:8080/v1/samples)
//	FEED_CAMERAS   comma-separated camera ids (default: every catalog camera)
//	FEED_FRAMES    samples per camera per round (default 5)
//	FEED_INTERVAL  round interval (default 5s)
//	MQTT_URL       publish over MQTT instead of HTTP when set
//	MQTT_TOPIC     samples topic (default corridorpulse/samples/+)
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/detect"
	"github.com/nicktill/corridorpulse/pkg/directory"
	"github.com/nicktill/corridorpulse/pkg/feed"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

const defaultEndpoint = "http://localhost:8080/v1/samples"

func main() {
	godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cameras := feedCameras()
	log.Printf("🚦 Feeding %d cameras", len(cameras))

	var transport feed.Transport
	if brokerURL := os.Getenv("MQTT_URL"); brokerURL != "" {
		topic := getEnv("MQTT_TOPIC", config.DefaultMQTTTopic)
		prefix := strings.TrimSuffix(topic, "/+")

		connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
		mqttTransport, err := feed.NewMQTT(connectCtx, brokerURL, prefix, "corridorpulse-feeder-"+strconv.Itoa(os.Getpid()))
		connectCancel()
		if err != nil {
			log.Fatalf("❌ Failed to connect to MQTT broker: %v", err)
		}
		transport = mqttTransport
		log.Printf("📡 Publishing to %s/<camera> on %s", prefix, brokerURL)
	} else {
		endpoint := getEnv("FEED_ENDPOINT", defaultEndpoint)
		transport = feed.NewHTTP(endpoint)
		log.Printf("📡 Posting to %s", endpoint)
	}
	defer transport.Close()

	feeder, err := feed.NewFeeder(detect.NewSimulator(nil, nil), transport, feed.Config{
		Cameras: cameras,
		Frames:  getEnvInt("FEED_FRAMES", 5),
		Every:   getEnvDuration("FEED_INTERVAL", 5*time.Second),
	})
	if err != nil {
		log.Fatalf("❌ Failed to create feeder: %v", err)
	}

	done := make(chan struct{})
	go func() {
		feeder.Run(ctx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Stopping feeder...")
	cancel()
	<-done
	log.Println("👋 Feeder exited")
}

// feedCameras returns FEED_CAMERAS, or every camera in the catalog.
func feedCameras() []traffic.CameraID {
	if list := os.Getenv("FEED_CAMERAS"); list != "" {
		var cameras []traffic.CameraID
		for _, id := range strings.Split(list, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cameras = append(cameras, traffic.CameraID(id))
			}
		}
		return cameras
	}

	dir, err := loadDirectory()
	if err != nil {
		log.Fatalf("❌ Failed to load corridor catalog: %v", err)
	}
	var cameras []traffic.CameraID
	for _, cam := range dir.Cameras() {
		cameras = append(cameras, cam.ID)
	}
	return cameras
}

func loadDirectory() (*directory.Directory, error) {
	if path := os.Getenv("CORRIDORPULSE_CATALOG"); path != "" {
		return directory.Load(path)
	}
	return directory.Default()
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
		log.Printf("⚠️  Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed > 0 {
			return parsed
		}
		log.Printf("⚠️  Invalid value for %s: %q, using default %v", key, val, defaultValue)
	}
	return defaultValue
}
