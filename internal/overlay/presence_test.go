package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndRoomIsolation(t *testing.T) {
	r := NewRegistry(45 * time.Second)

	r.Register(&Subscriber{ID: "s1", UserID: "u1", GuildID: "g1"})
	r.Register(&Subscriber{ID: "s2", UserID: "u2", GuildID: "g1"})
	r.Register(&Subscriber{ID: "s3", UserID: "u3", GuildID: "g2"})

	assert.Equal(t, 3, r.Count())
	assert.Len(t, r.InRoom("g1"), 2)
	assert.Len(t, r.InRoom("g2"), 1)
	assert.Empty(t, r.InRoom("g3"))
}

func TestRegistryTouch(t *testing.T) {
	r := NewRegistry(45 * time.Second)
	r.Register(&Subscriber{ID: "s1", GuildID: "g1"})

	assert.True(t, r.Touch("s1"))
	assert.False(t, r.Touch("nope"))
}

func TestRegistrySweepExpiresStaleSubscribers(t *testing.T) {
	r := NewRegistry(45 * time.Second)
	r.Register(&Subscriber{ID: "stale", GuildID: "g1"})
	r.Register(&Subscriber{ID: "fresh", GuildID: "g1"})

	// Age only the stale one.
	r.mu.Lock()
	r.subs["stale"].LastSeen = time.Now().Add(-90 * time.Second)
	r.mu.Unlock()

	expired := r.Sweep(time.Now())
	require.Equal(t, []string{"stale"}, expired)
	assert.Equal(t, 1, r.Count())
	require.Len(t, r.InRoom("g1"), 1)
	assert.Equal(t, "fresh", r.InRoom("g1")[0].ID)
}

func TestRegistryTouchDefersSweep(t *testing.T) {
	r := NewRegistry(45 * time.Second)
	r.Register(&Subscriber{ID: "s1", GuildID: "g1"})

	r.mu.Lock()
	r.subs["s1"].LastSeen = time.Now().Add(-40 * time.Second)
	r.mu.Unlock()

	require.True(t, r.Touch("s1"))
	assert.Empty(t, r.Sweep(time.Now()))
}

func TestRegistryReplaceKeepsSingleEntry(t *testing.T) {
	r := NewRegistry(45 * time.Second)
	r.Register(&Subscriber{ID: "s1", GuildID: "g1"})
	r.Register(&Subscriber{ID: "s1", GuildID: "g2"})

	assert.Equal(t, 1, r.Count())
	assert.Empty(t, r.InRoom("g1"))
	assert.Len(t, r.InRoom("g2"), 1)
}
