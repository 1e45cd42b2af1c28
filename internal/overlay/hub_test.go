package overlay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func register(t *testing.T, conn *websocket.Conn, userID, guildID string) string {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Envelope{Type: "overlay_register", UserID: userID, GuildID: guildID}))

	var ack Envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "overlay_registered", ack.Type)
	require.NotEmpty(t, ack.SubID)
	return ack.SubID
}

func TestHubRegisterAndBroadcast(t *testing.T) {
	hub := NewHub(45*time.Second, 20*time.Second)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	register(t, conn, "u1", "g1")

	hub.BroadcastToGuild("g1", "playlist_update", map[string]any{"current": "song"})

	var env Envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "playlist_update", env.Type)
	assert.Equal(t, "g1", env.GuildID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "song", payload["current"])
}

func TestHubRoomIsolation(t *testing.T) {
	hub := NewHub(45*time.Second, 20*time.Second)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	connA := dialHub(t, srv)
	register(t, connA, "u1", "g1")
	connB := dialHub(t, srv)
	register(t, connB, "u2", "g2")

	hub.BroadcastToGuild("g1", "playlist_update", map[string]any{"n": 1})

	var env Envelope
	require.NoError(t, connA.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, connA.ReadJSON(&env))
	assert.Equal(t, "g1", env.GuildID)

	// The g2 subscriber must not see the g1 event.
	require.NoError(t, connB.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	assert.Error(t, connB.ReadJSON(&env))
}

func TestHubPingRefreshesTTL(t *testing.T) {
	hub := NewHub(45*time.Second, 20*time.Second)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	id := register(t, conn, "u1", "g1")

	require.NoError(t, conn.WriteJSON(Envelope{Type: "overlay_ping"}))

	// Give the read loop a moment, then confirm the subscriber is fresh.
	assert.Eventually(t, func() bool {
		subs := hub.Registry().InRoom("g1")
		return len(subs) == 1 && subs[0].ID == id &&
			time.Since(subs[0].LastSeen) < time.Second
	}, time.Second, 10*time.Millisecond)
}

func TestHubDisconnectRemovesSubscriber(t *testing.T) {
	hub := NewHub(45*time.Second, 20*time.Second)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	register(t, conn, "u1", "g1")
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return hub.Registry().Count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHubBroadcastSurvivesConcurrentDrop(t *testing.T) {
	hub := NewHub(45*time.Second, 20*time.Second)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	id := register(t, conn, "u1", "g1")

	// A broadcaster can look a client up and then lose the race with a
	// disconnect or TTL sweep. Replay that order: grab the client, drop
	// it to completion, then deliver on the stale pointer.
	hub.mu.RLock()
	c, ok := hub.clients[id]
	hub.mu.RUnlock()
	require.True(t, ok)

	hub.dropClient(id)

	assert.NotPanics(t, func() {
		assert.False(t, c.offer([]byte(`{}`)))
	})
	assert.NotPanics(t, func() {
		hub.BroadcastToGuild("g1", "playlist_update", map[string]any{"n": 1})
	})

	// Dropping again stays idempotent.
	assert.NotPanics(t, func() { hub.dropClient(id) })
}

func TestHubBroadcastSurvivesDeadClient(t *testing.T) {
	hub := NewHub(45*time.Second, 20*time.Second)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	dead := dialHub(t, srv)
	register(t, dead, "u1", "g1")
	live := dialHub(t, srv)
	register(t, live, "u2", "g1")

	_ = dead.Close()

	hub.BroadcastToGuild("g1", "playlist_update", map[string]any{"n": 1})

	var env Envelope
	require.NoError(t, live.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, live.ReadJSON(&env))
	assert.Equal(t, "playlist_update", env.Type)
}
