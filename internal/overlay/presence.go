// Package overlay tracks the WebSocket subscribers that mirror playback
// state, grouped into per-guild rooms, and fans state updates out to
// them. Sends are best-effort: a slow or dead subscriber never blocks
// the rest of the room.
package overlay

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Subscriber is one registered overlay client.
type Subscriber struct {
	ID       string
	UserID   string
	GuildID  string
	Meta     map[string]string
	LastSeen time.Time
}

// Registry tracks live subscribers with a heartbeat TTL.
type Registry struct {
	ttl time.Duration

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// NewRegistry creates a registry with the given heartbeat TTL.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:  ttl,
		subs: make(map[string]*Subscriber),
	}
}

// Register adds (or replaces) a subscriber.
func (r *Registry) Register(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub.LastSeen = time.Now()
	r.subs[sub.ID] = sub
}

// Touch refreshes the heartbeat. Unknown IDs return false.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return false
	}
	sub.LastSeen = time.Now()
	return true
}

// Remove drops a subscriber.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// InRoom returns the subscribers of guild room guild:{id}.
func (r *Registry) InRoom(guildID string) []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Subscriber
	for _, sub := range r.subs {
		if sub.GuildID == guildID {
			out = append(out, sub)
		}
	}
	return out
}

// Count returns the number of live subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Sweep removes subscribers whose heartbeat is older than the TTL and
// returns their IDs.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for id, sub := range r.subs {
		if now.Sub(sub.LastSeen) > r.ttl {
			delete(r.subs, id)
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		logrus.WithField("count", len(expired)).Debug("Swept expired overlay subscribers")
	}
	return expired
}
