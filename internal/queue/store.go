// Package queue implements the per-guild track queue with priority
// insertion and a crash-recovery JSON snapshot per guild. Memory is the
// source of truth; the snapshot on disk is only read once, lazily, and
// rewritten after every mutation.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"
)

// Store manages one queue per guild, persisted under dir as <guild>.json.
// Each guild carries its own lock, so mutations of different guilds
// never serialize on each other's snapshot writes.
type Store struct {
	dir string

	mu     sync.Mutex // guards the guilds map only
	guilds map[string]*guildQueue
}

type guildQueue struct {
	mu         sync.Mutex
	loaded     bool
	NowPlaying *Track
	Items      []Track
	seq        int64
}

// snapshot is the on-disk form. A legacy bare-array form is accepted on
// read and rewritten as the object form on the next save.
type snapshot struct {
	NowPlaying *Track  `json:"now_playing"`
	Queue      []Track `json:"queue"`
}

// NewStore creates a queue store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		guilds: make(map[string]*guildQueue),
	}
}

// Add inserts track before the first existing entry of strictly lower
// priority, or at the tail. Equal priorities keep enqueue order. The
// track's EnqueuedAt tick is assigned here.
func (s *Store) Add(guildID string, track Track) Track {
	q := s.guild(guildID)
	defer q.mu.Unlock()

	q.seq++
	track.EnqueuedAt = q.seq

	idx := len(q.Items)
	for i := range q.Items {
		if q.Items[i].Priority < track.Priority {
			idx = i
			break
		}
	}
	q.Items = append(q.Items, Track{})
	copy(q.Items[idx+1:], q.Items[idx:])
	q.Items[idx] = track

	s.save(guildID, q)
	return track
}

// PopNext removes and returns the queue head, or nil when empty.
func (s *Store) PopNext(guildID string) *Track {
	q := s.guild(guildID)
	defer q.mu.Unlock()

	if len(q.Items) == 0 {
		return nil
	}
	head := q.Items[0]
	q.Items = append([]Track(nil), q.Items[1:]...)
	s.save(guildID, q)
	return &head
}

// RemoveAt removes the track at index. Out-of-range indexes return false.
func (s *Store) RemoveAt(guildID string, index int) bool {
	q := s.guild(guildID)
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.Items) {
		return false
	}
	q.Items = append(q.Items[:index], q.Items[index+1:]...)
	s.save(guildID, q)
	return true
}

// Move relocates the track at src to dst. Out-of-range indexes return false.
func (s *Store) Move(guildID string, src, dst int) bool {
	q := s.guild(guildID)
	defer q.mu.Unlock()

	n := len(q.Items)
	if src < 0 || src >= n || dst < 0 || dst >= n {
		return false
	}
	if src == dst {
		return true
	}
	moved := q.Items[src]
	q.Items = append(q.Items[:src], q.Items[src+1:]...)
	q.Items = append(q.Items, Track{})
	copy(q.Items[dst+1:], q.Items[dst:])
	q.Items[dst] = moved
	s.save(guildID, q)
	return true
}

// PeekAll returns a copy of the queued tracks in order.
func (s *Store) PeekAll(guildID string) []Track {
	q := s.guild(guildID)
	defer q.mu.Unlock()

	out := make([]Track, len(q.Items))
	copy(out, q.Items)
	return out
}

// Len returns the number of queued tracks.
func (s *Store) Len(guildID string) int {
	q := s.guild(guildID)
	defer q.mu.Unlock()
	return len(q.Items)
}

// CountBy returns how many queued tracks were requested by userID.
func (s *Store) CountBy(guildID, userID string) int {
	q := s.guild(guildID)
	defer q.mu.Unlock()

	n := 0
	for i := range q.Items {
		if q.Items[i].RequestedBy == userID {
			n++
		}
	}
	return n
}

// Stop clears the queue and the now-playing track.
func (s *Store) Stop(guildID string) {
	q := s.guild(guildID)
	defer q.mu.Unlock()

	q.Items = nil
	q.NowPlaying = nil
	s.save(guildID, q)
}

// SetNowPlaying records the currently playing track (nil clears it). The
// now-playing track is never part of the queue itself.
func (s *Store) SetNowPlaying(guildID string, track *Track) {
	q := s.guild(guildID)
	defer q.mu.Unlock()

	if track != nil {
		cp := *track
		q.NowPlaying = &cp
	} else {
		q.NowPlaying = nil
	}
	s.save(guildID, q)
}

// NowPlaying returns a copy of the current track, or nil.
func (s *Store) NowPlaying(guildID string) *Track {
	q := s.guild(guildID)
	defer q.mu.Unlock()

	if q.NowPlaying == nil {
		return nil
	}
	cp := *q.NowPlaying
	return &cp
}

// guild returns the queue for guildID with its lock held; the caller
// must Unlock it. The snapshot is read from disk on first reference,
// under the guild lock only, so a slow load or save never blocks other
// guilds.
func (s *Store) guild(guildID string) *guildQueue {
	s.mu.Lock()
	q, ok := s.guilds[guildID]
	if !ok {
		q = &guildQueue{}
		s.guilds[guildID] = q
	}
	s.mu.Unlock()

	q.mu.Lock()
	if !q.loaded {
		q.loaded = true
		s.loadSnapshot(guildID, q)
	}
	return q
}

// loadSnapshot fills q from disk. Corrupt snapshots reset to empty.
// Caller holds q.mu.
func (s *Store) loadSnapshot(guildID string, q *guildQueue) {
	data, err := os.ReadFile(s.path(guildID))
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).WithField("guild_id", guildID).Warn("Failed to read queue snapshot")
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Legacy form: a bare array of tracks.
		var legacy []Track
		if err2 := json.Unmarshal(data, &legacy); err2 != nil {
			logrus.WithError(err).WithField("guild_id", guildID).Warn("Corrupt queue snapshot, resetting to empty")
			return
		}
		snap.Queue = legacy
	}

	q.NowPlaying = snap.NowPlaying
	q.Items = snap.Queue
	for i := range q.Items {
		if q.Items[i].EnqueuedAt > q.seq {
			q.seq = q.Items[i].EnqueuedAt
		}
	}
	if q.NowPlaying != nil && q.NowPlaying.EnqueuedAt > q.seq {
		q.seq = q.NowPlaying.EnqueuedAt
	}
}

// save writes the snapshot atomically (temp file + fsync + rename). A
// failed write never aborts the in-memory mutation; the next successful
// write heals the snapshot. Caller holds q.mu.
func (s *Store) save(guildID string, q *guildQueue) {
	snap := snapshot{NowPlaying: q.NowPlaying, Queue: q.Items}
	if snap.Queue == nil {
		snap.Queue = []Track{}
	}

	data, err := json.Marshal(&snap)
	if err != nil {
		logrus.WithError(err).WithField("guild_id", guildID).Error("Failed to marshal queue snapshot")
		return
	}
	if err := renameio.WriteFile(s.path(guildID), data, 0o640); err != nil {
		logrus.WithError(err).WithField("guild_id", guildID).Warn("Failed to write queue snapshot")
	}
}

func (s *Store) path(guildID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", guildID))
}
