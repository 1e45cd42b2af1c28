package engine

import (
	"time"

	"github.com/fankserver/discord-jukebox/internal/queue"
)

// maxQueueUsers caps the requester index in the projected state.
const maxQueueUsers = 25

// ProjectedState is the read-only snapshot shared with overlays.
type ProjectedState struct {
	Queue           []queue.Track `json:"queue"`
	Current         *queue.Track  `json:"current"`
	Paused          bool          `json:"paused"`
	PositionS       int           `json:"position_s"`
	DurationS       int           `json:"duration_s,omitempty"`
	Thumbnail       string        `json:"thumbnail,omitempty"`
	RepeatAll       bool          `json:"repeat_all"`
	RequestedByUser string        `json:"requested_by_user,omitempty"`
	QueueUsers      []QueueUser   `json:"queue_users"`
}

// QueueUser is one distinct requester, in first-seen order.
type QueueUser struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ProgressDelta is the lightweight 1 Hz update emitted while a track
// streams or sits paused.
type ProgressDelta struct {
	OnlyElapsed bool `json:"only_elapsed"`
	Paused      bool `json:"paused"`
	PositionS   int  `json:"position_s"`
	DurationS   int  `json:"duration_s,omitempty"`
}

// elapsedSeconds computes playback position: wall time since start,
// minus accumulated pause time, frozen while paused.
func (g *guildState) elapsedSeconds(now time.Time) int {
	if g.playStartedAt.IsZero() {
		return 0
	}
	end := now
	if !g.pausedSince.IsZero() {
		end = g.pausedSince
	}
	elapsed := end.Sub(g.playStartedAt) - g.pausedTotal
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / time.Second)
}

// project builds the full overlay state.
func (g *guildState) project() *ProjectedState {
	e := g.eng

	items := e.store.PeekAll(g.guildID)
	current := e.store.NowPlaying(g.guildID)

	st := &ProjectedState{
		Queue:      items,
		Current:    current,
		Paused:     g.session != nil && g.session.IsPaused(),
		RepeatAll:  g.repeatAll,
		QueueUsers: []QueueUser{},
	}

	if current != nil {
		st.Thumbnail = current.Thumbnail
		st.DurationS = current.DurationS
		st.RequestedByUser = current.RequestedBy
		st.PositionS = g.elapsedSeconds(e.now())
		if st.DurationS > 0 && st.PositionS > st.DurationS {
			st.PositionS = st.DurationS
		}
	}

	seen := make(map[string]bool)
	addUser := func(userID string) {
		if userID == "" || seen[userID] || len(st.QueueUsers) >= maxQueueUsers {
			return
		}
		seen[userID] = true
		meta := e.auth.UserMeta(g.guildID, userID)
		st.QueueUsers = append(st.QueueUsers, QueueUser{
			UserID:      userID,
			DisplayName: meta.DisplayName,
			AvatarURL:   meta.AvatarURL,
		})
	}
	if current != nil {
		addUser(current.RequestedBy)
	}
	for i := range items {
		addUser(items[i].RequestedBy)
	}

	return st
}

// emitProgress broadcasts the 1 Hz delta and stops the ticker once the
// session is idle with nothing current.
func (g *guildState) emitProgress() {
	e := g.eng

	current := e.store.NowPlaying(g.guildID)
	if !g.sessionActive() {
		if current == nil {
			g.stopTicker()
		}
		return
	}
	g.touch()

	delta := ProgressDelta{
		OnlyElapsed: true,
		Paused:      g.session.IsPaused(),
		PositionS:   g.elapsedSeconds(e.now()),
	}
	if current != nil {
		delta.DurationS = current.DurationS
		if delta.DurationS > 0 && delta.PositionS > delta.DurationS {
			delta.PositionS = delta.DurationS
		}
	}
	e.cast.BroadcastToGuild(g.guildID, eventPlaylistUpdate, delta)
}
