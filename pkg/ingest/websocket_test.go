package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/corridorpulse/pkg/derive"
)

func TestSnapshotHub_PublishReachesClients(t *testing.T) {
	hub := NewSnapshotHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	// Nothing to do without clients
	require.NoError(t, hub.Publish(ctx, &derive.Snapshot{Corridor: "i-495-lie"}))

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, hub.HasClients, time.Second, 10*time.Millisecond)

	snap := &derive.Snapshot{Corridor: "i-495-lie", Status: derive.StatusAwaiting, Narrative: derive.AwaitingNarrative}
	require.NoError(t, hub.Publish(ctx, snap))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg SnapshotMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "snapshot", msg.Type)
	require.Equal(t, snap.Corridor, msg.Snapshot.Corridor)
	require.Equal(t, derive.StatusAwaiting, msg.Snapshot.Status)

	conn.Close()
	require.Eventually(t, func() bool { return !hub.HasClients() }, time.Second, 10*time.Millisecond)
}

func TestSnapshotHub_RejectsCrossOrigin(t *testing.T) {
	hub := NewSnapshotHub()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := map[string][]string{"Origin": {"http://evil.example"}}
	_, _, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
}

func TestSnapshotHub_Name(t *testing.T) {
	require.Equal(t, "websocket", NewSnapshotHub().Name())
}
