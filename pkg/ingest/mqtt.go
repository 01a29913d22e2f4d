package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/telemetry"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// connectTimeout bounds the initial broker connection
const connectTimeout = 10 * time.Second

// MQTTConfig configures an MQTTSubscriber.
type MQTTConfig struct {
	BrokerURL string // e.g. tcp://localhost:1883
	Topic     string // "" = config.DefaultMQTTTopic
	ClientID  string // "" = generated from the start time
}

// MQTTSubscriber feeds samples published on an MQTT topic into a Batcher.
// The payload is a SamplesRequest; when it names no camera the last topic
// level is used.
type MQTTSubscriber struct {
	cfg     MQTTConfig
	batcher *Batcher
	client  mqtt.Client
}

// NewMQTTSubscriber creates a subscriber. Call Start to connect.
func NewMQTTSubscriber(cfg MQTTConfig, batcher *Batcher) *MQTTSubscriber {
	if cfg.Topic == "" {
		cfg.Topic = config.DefaultMQTTTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "corridorpulse-" + time.Now().Format("20060102150405")
	}
	return &MQTTSubscriber{cfg: cfg, batcher: batcher}
}

// Start connects to the broker and subscribes on every (re)connect.
func (s *MQTTSubscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.BrokerURL)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetDefaultPublishHandler(func(client mqtt.Client, message mqtt.Message) {
		if err := s.HandleMessage(message.Topic(), message.Payload()); err != nil {
			log.Printf("Dropped MQTT message on %s: %v", message.Topic(), err)
		}
	})
	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(s.cfg.Topic, 0, nil)
		token.Wait()
		if token.Error() != nil {
			log.Printf("MQTT subscribe error: %v", token.Error())
			return
		}
		log.Printf("Subscribed to MQTT topic %s", s.cfg.Topic)
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect cancelled: %w", ctx.Err())
	case <-time.After(connectTimeout):
		// SetConnectRetry keeps trying in the background
		log.Printf("MQTT broker %s not reachable yet, retrying in background", s.cfg.BrokerURL)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (s *MQTTSubscriber) Stop() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

// HandleMessage decodes one message and queues its samples.
func (s *MQTTSubscriber) HandleMessage(topic string, payload []byte) error {
	if len(payload) > MaxPayloadBytes {
		telemetry.SamplesRejected.WithLabelValues("mqtt").Inc()
		return fmt.Errorf("payload too large: %d bytes", len(payload))
	}

	var req SamplesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		telemetry.SamplesRejected.WithLabelValues("mqtt").Inc()
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if req.Camera == "" {
		req.Camera = cameraFromTopic(topic)
	}
	if err := req.Validate(); err != nil {
		telemetry.SamplesRejected.WithLabelValues("mqtt").Add(float64(len(req.Samples)))
		return err
	}

	telemetry.SamplesReceived.WithLabelValues("mqtt").Add(float64(len(req.Samples)))
	s.batcher.Add(req.Camera, req.Samples)
	return nil
}

// cameraFromTopic returns the last topic level, e.g. R11_159 for corridorpulse/samples/R11_159
func cameraFromTopic(topic string) traffic.CameraID {
	topic = strings.TrimRight(topic, "/")
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		topic = topic[i+1:]
	}
	return traffic.CameraID(topic)
}
