package overlay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const clientSendBuffer = 16

// Envelope is the wire frame for both directions.
type Envelope struct {
	Type    string            `json:"type"`
	UserID  string            `json:"user_id,omitempty"`
	GuildID string            `json:"guild_id,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
	SubID   string            `json:"subscriber_id,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

// Hub upgrades overlay connections and fans guild-scoped events out to
// the registered subscribers.
type Hub struct {
	registry *Registry
	sweep    time.Duration
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client // keyed by subscriber ID
}

type client struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// offer enqueues without blocking. The frame is dropped when the client
// is already closed or its buffer is full.
func (c *client) offer(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close shuts the send channel exactly once. The mutex serializes this
// against offer, so a broadcaster holding a stale client pointer can
// never send on the closed channel.
func (c *client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	_ = c.conn.Close()
}

// NewHub creates the overlay hub.
func NewHub(ttl, sweep time.Duration) *Hub {
	return &Hub{
		registry: NewRegistry(ttl),
		sweep:    sweep,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin enforcement is delegated to the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Registry exposes the presence registry (diagnostics).
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run drives the TTL sweeper until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range h.registry.Sweep(now) {
				h.dropClient(id)
			}
		}
	}
}

// ServeHTTP upgrades the connection and runs its read loop.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Debug("Overlay upgrade failed")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	go c.writeLoop()
	h.readLoop(c)
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.dropClient(c.id)
		h.registry.Remove(c.id)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logrus.WithError(err).Debug("Ignoring malformed overlay frame")
			continue
		}

		switch env.Type {
		case "overlay_register":
			if env.GuildID == "" {
				continue
			}
			h.registry.Register(&Subscriber{
				ID:      c.id,
				UserID:  env.UserID,
				GuildID: env.GuildID,
				Meta:    env.Meta,
			})
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()

			ack, _ := json.Marshal(Envelope{Type: "overlay_registered", SubID: c.id})
			c.offer(ack)

			logrus.WithFields(logrus.Fields{
				"subscriber_id": c.id,
				"guild_id":      env.GuildID,
				"user_id":       env.UserID,
			}).Debug("Overlay subscriber registered")

		case "overlay_ping":
			h.registry.Touch(c.id)
		}
	}
}

// BroadcastToGuild sends an event to every subscriber of the guild's
// room. Slow subscribers drop the frame rather than blocking.
func (h *Hub) BroadcastToGuild(guildID, event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("guild_id", guildID).Error("Failed to marshal overlay payload")
		return
	}
	msg, _ := json.Marshal(Envelope{Type: event, GuildID: guildID, Payload: body})

	for _, sub := range h.registry.InRoom(guildID) {
		h.mu.RLock()
		c, ok := h.clients[sub.ID]
		h.mu.RUnlock()
		if ok && !c.offer(msg) {
			logrus.WithField("subscriber_id", c.id).Debug("Overlay client slow or gone, dropping frame")
		}
	}
}

func (h *Hub) dropClient(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if ok {
		c.close()
	}
}
