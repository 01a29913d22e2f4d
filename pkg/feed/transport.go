// Package feed pushes camera samples to a corridorpulse server, over HTTP to
// /v1/samples or over MQTT to the samples topic. It is the producer side of
// push ingest and backs cmd/feeder.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nicktill/corridorpulse/pkg/ingest"
)

// Transport delivers one push request.
type Transport interface {
	Send(ctx context.Context, req ingest.SamplesRequest) error
	Close() error
}

// HTTPTransport posts push requests as JSON.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates an HTTP transport for a /v1/samples endpoint.
func NewHTTP(endpoint string) *HTTPTransport {
	return &HTTPTransport{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send posts the request and fails on any non-2xx status.
func (t *HTTPTransport) Send(ctx context.Context, req ingest.SamplesRequest) error {
	if len(req.Samples) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal samples: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Close is a no-op for HTTP.
func (t *HTTPTransport) Close() error {
	return nil
}

// publishTimeout bounds a single MQTT publish
const publishTimeout = 5 * time.Second

// MQTTTransport publishes push requests to <prefix>/<camera>.
type MQTTTransport struct {
	client mqtt.Client
	prefix string
}

// NewMQTT connects to the broker. topicPrefix is the samples topic without
// the trailing camera level, e.g. "corridorpulse/samples".
func NewMQTT(ctx context.Context, brokerURL, topicPrefix, clientID string) (*MQTTTransport, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("MQTT connect cancelled: %w", ctx.Err())
	}

	return &MQTTTransport{client: client, prefix: strings.TrimSuffix(topicPrefix, "/")}, nil
}

// Topic returns the topic a camera's samples are published on.
func (t *MQTTTransport) Topic(req ingest.SamplesRequest) string {
	return t.prefix + "/" + string(req.Camera)
}

// Send publishes the request at QoS 1.
func (t *MQTTTransport) Send(ctx context.Context, req ingest.SamplesRequest) error {
	if len(req.Samples) == 0 {
		return nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal samples: %w", err)
	}

	token := t.client.Publish(t.Topic(req), 1, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish samples: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish timed out after %v", publishTimeout)
	}
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() error {
	t.client.Disconnect(250)
	return nil
}
