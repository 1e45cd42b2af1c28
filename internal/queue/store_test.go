package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func track(title, user string, priority int) Track {
	return Track{Title: title, URL: "https://example.com/" + title, RequestedBy: user, Priority: priority}
}

func TestAddPriorityInsertion(t *testing.T) {
	s := newTestStore(t)

	s.Add("g1", track("A", "u1", 0))
	s.Add("g1", track("B", "u2", 0))
	s.Add("g1", track("C", "u3", 10))

	items := s.PeekAll("g1")
	require.Len(t, items, 3)
	assert.Equal(t, "C", items[0].Title)
	assert.Equal(t, "A", items[1].Title)
	assert.Equal(t, "B", items[2].Title)
}

func TestAddEqualPriorityKeepsEnqueueOrder(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"A", "B", "C", "D"} {
		s.Add("g1", track(name, "u1", 5))
	}

	items := s.PeekAll("g1")
	require.Len(t, items, 4)
	for i, want := range []string{"A", "B", "C", "D"} {
		assert.Equal(t, want, items[i].Title)
		if i > 0 {
			assert.Greater(t, items[i].EnqueuedAt, items[i-1].EnqueuedAt)
		}
	}
}

func TestAddPriorityBands(t *testing.T) {
	s := newTestStore(t)

	s.Add("g1", track("norm1", "u1", 0))
	s.Add("g1", track("mod", "u2", 50))
	s.Add("g1", track("norm2", "u3", 0))
	s.Add("g1", track("admin", "u4", 80))
	s.Add("g1", track("mod2", "u5", 50))

	var titles []string
	for _, it := range s.PeekAll("g1") {
		titles = append(titles, it.Title)
	}
	assert.Equal(t, []string{"admin", "mod", "mod2", "norm1", "norm2"}, titles)
}

func TestPopNext(t *testing.T) {
	s := newTestStore(t)
	s.Add("g1", track("A", "u1", 0))
	s.Add("g1", track("B", "u1", 0))

	head := s.PopNext("g1")
	require.NotNil(t, head)
	assert.Equal(t, "A", head.Title)
	assert.Equal(t, 1, s.Len("g1"))

	s.PopNext("g1")
	assert.Nil(t, s.PopNext("g1"))
}

func TestRemoveAtOutOfRange(t *testing.T) {
	s := newTestStore(t)
	s.Add("g1", track("A", "u1", 0))

	assert.False(t, s.RemoveAt("g1", -1))
	assert.False(t, s.RemoveAt("g1", 1))
	assert.True(t, s.RemoveAt("g1", 0))
	assert.Equal(t, 0, s.Len("g1"))
}

func TestMove(t *testing.T) {
	tests := []struct {
		name string
		src  int
		dst  int
		ok   bool
		want []string
	}{
		{"forward", 0, 2, true, []string{"B", "C", "A"}},
		{"backward", 2, 0, true, []string{"C", "A", "B"}},
		{"same_index", 1, 1, true, []string{"A", "B", "C"}},
		{"src_out_of_range", 3, 0, false, []string{"A", "B", "C"}},
		{"dst_out_of_range", 0, 3, false, []string{"A", "B", "C"}},
		{"negative", -1, 0, false, []string{"A", "B", "C"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			for _, name := range []string{"A", "B", "C"} {
				s.Add("g1", track(name, "u1", 0))
			}

			assert.Equal(t, tt.ok, s.Move("g1", tt.src, tt.dst))

			var titles []string
			for _, it := range s.PeekAll("g1") {
				titles = append(titles, it.Title)
			}
			assert.Equal(t, tt.want, titles)
		})
	}
}

func TestStopClearsQueueAndNowPlaying(t *testing.T) {
	s := newTestStore(t)
	s.Add("g1", track("A", "u1", 0))
	np := track("NP", "u1", 0)
	s.SetNowPlaying("g1", &np)

	s.Stop("g1")

	assert.Equal(t, 0, s.Len("g1"))
	assert.Nil(t, s.NowPlaying("g1"))
}

func TestNowPlayingNotInQueue(t *testing.T) {
	s := newTestStore(t)
	np := track("NP", "u1", 0)
	s.SetNowPlaying("g1", &np)

	assert.Equal(t, 0, s.Len("g1"))
	got := s.NowPlaying("g1")
	require.NotNil(t, got)
	assert.Equal(t, "NP", got.Title)
}

func TestCountBy(t *testing.T) {
	s := newTestStore(t)
	s.Add("g1", track("A", "u1", 0))
	s.Add("g1", track("B", "u2", 0))
	s.Add("g1", track("C", "u1", 0))

	assert.Equal(t, 2, s.CountBy("g1", "u1"))
	assert.Equal(t, 1, s.CountBy("g1", "u2"))
	assert.Equal(t, 0, s.CountBy("g1", "u3"))
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := NewStore(dir)
	s.Add("g1", track("A", "u1", 10))
	s.Add("g1", track("B", "u2", 0))
	np := track("NP", "u1", 0)
	s.SetNowPlaying("g1", &np)

	// A fresh store must see the same state from the snapshot.
	s2 := NewStore(dir)
	items := s2.PeekAll("g1")
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].Title)
	assert.Equal(t, "B", items[1].Title)

	got := s2.NowPlaying("g1")
	require.NotNil(t, got)
	assert.Equal(t, "NP", got.Title)

	// Sequence continues past restored ticks.
	added := s2.Add("g1", track("C", "u3", 0))
	assert.Greater(t, added.EnqueuedAt, items[1].EnqueuedAt)
}

func TestLoadLegacyBareArray(t *testing.T) {
	dir := t.TempDir()
	legacy := []Track{track("A", "u1", 0), track("B", "u2", 5)}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "g1.json"), data, 0o640))

	s := NewStore(dir)
	items := s.PeekAll("g1")
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].Title)
	assert.Nil(t, s.NowPlaying("g1"))

	// Next save rewrites the object form.
	s.Add("g1", track("C", "u1", 0))
	raw, err := os.ReadFile(filepath.Join(dir, "g1.json"))
	require.NoError(t, err)
	var snap map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Contains(t, snap, "queue")
	assert.Contains(t, snap, "now_playing")
}

func TestLoadCorruptSnapshotResets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "g1.json"), []byte("{not json"), 0o640))

	s := NewStore(dir)
	assert.Equal(t, 0, s.Len("g1"))
	assert.Nil(t, s.NowPlaying("g1"))
}

func TestConcurrentMutationsAcrossGuilds(t *testing.T) {
	s := newTestStore(t)

	const guilds, adds, pops = 4, 25, 5

	var wg sync.WaitGroup
	for g := 0; g < guilds; g++ {
		guild := fmt.Sprintf("g%d", g)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < adds; i++ {
				s.Add(guild, track(fmt.Sprintf("t%d", i), "u1", i%3))
			}
			for i := 0; i < pops; i++ {
				assert.NotNil(t, s.PopNext(guild))
			}
		}()
	}
	wg.Wait()

	for g := 0; g < guilds; g++ {
		guild := fmt.Sprintf("g%d", g)
		assert.Equal(t, adds-pops, s.Len(guild))
		assert.Equal(t, adds-pops, s.CountBy(guild, "u1"))
	}
}

func TestGuildsAreIndependent(t *testing.T) {
	s := newTestStore(t)
	s.Add("g1", track("A", "u1", 0))
	s.Add("g2", track("B", "u1", 0))

	assert.Equal(t, 1, s.Len("g1"))
	assert.Equal(t, 1, s.Len("g2"))
	assert.Equal(t, "A", s.PeekAll("g1")[0].Title)
	assert.Equal(t, "B", s.PeekAll("g2")[0].Title)
}
