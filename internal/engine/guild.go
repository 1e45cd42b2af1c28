package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/discord-jukebox/internal/errcode"
	"github.com/fankserver/discord-jukebox/internal/extractor"
	"github.com/fankserver/discord-jukebox/internal/priority"
	"github.com/fankserver/discord-jukebox/internal/queue"
)

// guildState is the actor-owned playback state of one guild. Only the
// guild's actor goroutine touches it.
type guildState struct {
	eng     *Engine
	guildID string

	session   VoiceSession
	repeatAll bool
	audioMode string

	playStartedAt time.Time
	pausedSince   time.Time
	pausedTotal   time.Duration

	handle *extractor.SourceHandle
	tick   *ticker

	lastActive time.Time

	// playGen guards stale on_finish callbacks: a finish whose
	// generation no longer matches is ignored, so skip and stop can
	// never double-advance the queue.
	playGen uint64
}

// EnqueueResult is the reply of enqueue and play_for_user.
type EnqueueResult struct {
	Track      queue.Track     `json:"track"`
	InsertedAt int             `json:"inserted_at"`
	Autoplay   *AutoplayResult `json:"autoplay,omitempty"`
}

// AutoplayResult reports the best-effort autoplay attempt that follows
// an enqueue into an idle guild. Failures land here, never as an error
// of the enqueue itself.
type AutoplayResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (g *guildState) log() *logrus.Entry {
	return logrus.WithField("guild_id", g.guildID)
}

func (g *guildState) touch() {
	g.lastActive = g.eng.now()
}

func (g *guildState) broadcastState() {
	g.eng.cast.BroadcastToGuild(g.guildID, eventPlaylistUpdate, g.project())
}

func (g *guildState) sessionActive() bool {
	return g.session != nil && (g.session.IsPlaying() || g.session.IsPaused())
}

// authorize enforces the control ordering: the requester must own the
// current track, be an admin, or outweigh the current track's owner.
// Internal calls pass an empty user ID.
func (g *guildState) authorize(userID string) error {
	if userID == "" {
		return nil
	}
	current := g.eng.store.NowPlaying(g.guildID)
	if g.eng.auth.CanBumpOver(g.guildID, userID, current) {
		return nil
	}
	return errcode.Newf(errcode.PriorityForbidden, "user %s may not control the current track", userID)
}

// enqueueTrack normalizes the item, enforces the per-user cap and adds
// the track under the requester's weight.
func (g *guildState) enqueueTrack(userID, item string) (*EnqueueResult, error) {
	e := g.eng

	ctx, cancel := context.WithTimeout(context.Background(), sourceTimeout)
	defer cancel()
	track, err := e.sources.Normalize(ctx, item)
	if err != nil {
		return nil, err
	}
	if !track.Playable() {
		return nil, errcode.Newf(errcode.ExtractionFailed, "could not resolve %q", item)
	}

	meta := e.auth.UserMeta(g.guildID, userID)
	if !meta.BypassQuota && e.store.CountBy(g.guildID, userID) >= e.opts.PerUserCap {
		return nil, errcode.Newf(errcode.QuotaExceeded, "user %s already has %d queued tracks", userID, e.opts.PerUserCap)
	}

	track.RequestedBy = userID
	track.Priority = meta.Weight
	added := e.store.Add(g.guildID, track)

	g.log().WithFields(logrus.Fields{
		"user_id":  userID,
		"track":    added.Title,
		"priority": added.Priority,
	}).Info("Track enqueued")

	return &EnqueueResult{Track: added, InsertedAt: g.indexOf(added)}, nil
}

func (g *guildState) indexOf(track queue.Track) int {
	items := g.eng.store.PeekAll(g.guildID)
	for i := range items {
		if items[i].EnqueuedAt == track.EnqueuedAt {
			return i
		}
	}
	return -1
}

func (g *guildState) enqueue(userID, item string) (*EnqueueResult, error) {
	if userID == "" {
		return nil, errcode.New(errcode.MissingUserID, "user id required")
	}
	if item == "" {
		return nil, errcode.New(errcode.BadArgument, "query or url required")
	}
	e := g.eng

	wasIdle := e.store.Len(g.guildID) == 0 && e.store.NowPlaying(g.guildID) == nil
	res, err := g.enqueueTrack(userID, item)
	if err != nil {
		return nil, err
	}
	if wasIdle {
		res.Autoplay = g.autoplay(userID)
	}
	g.touch()
	g.broadcastState()
	return res, nil
}

// autoplay joins the requester's voice channel and starts playback.
// Best-effort: every failure is reported in the result, not raised.
func (g *guildState) autoplay(userID string) *AutoplayResult {
	e := g.eng

	channelID, err := e.dialer.UserVoiceChannel(g.guildID, userID)
	if err != nil {
		g.log().WithError(err).Debug("Autoplay skipped, requester voice channel unknown")
		return &AutoplayResult{Error: string(errcode.Of(err))}
	}
	if err := g.connect(channelID); err != nil {
		g.log().WithError(err).Warn("Autoplay voice connect failed")
		return &AutoplayResult{Error: string(errcode.Of(err))}
	}
	g.playNext()
	return &AutoplayResult{OK: g.sessionActive()}
}

func (g *guildState) playForUser(userID, item string) (*EnqueueResult, error) {
	if userID == "" {
		return nil, errcode.New(errcode.MissingUserID, "user id required")
	}
	if item == "" {
		return nil, errcode.New(errcode.BadArgument, "query or url required")
	}
	e := g.eng
	if !e.dialer.Ready() {
		return nil, errcode.New(errcode.BotNotReady, "gateway not connected")
	}

	channelID, err := e.dialer.UserVoiceChannel(g.guildID, userID)
	if err != nil {
		return nil, err
	}
	if err := g.connect(channelID); err != nil {
		return nil, err
	}

	var res *EnqueueResult
	if e.sources.IsBundle(item) {
		res, err = g.enqueueBundle(userID, item)
	} else {
		res, err = g.enqueueTrack(userID, item)
	}
	if err != nil {
		return nil, err
	}

	if !g.sessionActive() {
		g.playNext()
	}
	g.touch()
	g.broadcastState()
	return res, nil
}

// enqueueBundle expands a playlist URL and enqueues head and tail in
// order, all under the requester's weight so they stay contiguous.
func (g *guildState) enqueueBundle(userID, rawURL string) (*EnqueueResult, error) {
	e := g.eng

	ctx, cancel := context.WithTimeout(context.Background(), sourceTimeout)
	defer cancel()
	tracks, err := e.sources.ExpandBundle(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, errcode.Newf(errcode.ExtractionFailed, "bundle %q is empty", rawURL)
	}

	meta := e.auth.UserMeta(g.guildID, userID)
	if !meta.BypassQuota && e.store.CountBy(g.guildID, userID)+len(tracks) > e.opts.PerUserCap {
		return nil, errcode.Newf(errcode.QuotaExceeded, "bundle of %d would exceed the per-user cap", len(tracks))
	}

	var head queue.Track
	for i := range tracks {
		tracks[i].RequestedBy = userID
		tracks[i].Priority = meta.Weight
		added := e.store.Add(g.guildID, tracks[i])
		if i == 0 {
			head = added
		}
	}

	g.log().WithFields(logrus.Fields{
		"user_id": userID,
		"count":   len(tracks),
	}).Info("Bundle enqueued")

	return &EnqueueResult{Track: head, InsertedAt: g.indexOf(head)}, nil
}

// connect ensures a voice session on channelID, opening one on first
// use. A fresh connection plays the intro asset when the guild is idle.
func (g *guildState) connect(channelID string) error {
	e := g.eng

	if g.session != nil && g.session.IsConnected() {
		_, err := g.session.EnsureConnected(channelID)
		return err
	}

	sess, err := e.dialer.OpenSession(g.guildID, channelID)
	if err != nil {
		return err
	}
	g.session = sess
	g.touch()
	g.playIntro()
	return nil
}

// playIntro plays the configured intro asset on a fresh connection.
// Its completion drives playNext like any other source.
func (g *guildState) playIntro() {
	e := g.eng
	if e.opts.IntroAssetPath == "" {
		return
	}
	if g.sessionActive() || e.store.NowPlaying(g.guildID) != nil {
		return
	}
	if err := g.startSource(&extractor.SourceHandle{URL: e.opts.IntroAssetPath}, nil); err != nil {
		g.log().WithError(err).Debug("Intro asset playback failed")
	}
}

// playNext advances the queue. Guarded: while the session streams (or
// holds a paused stream) it returns immediately; the active stream's
// on_finish will re-enter.
func (g *guildState) playNext() {
	e := g.eng

	if g.sessionActive() {
		return
	}
	if g.session == nil || !g.session.IsConnected() {
		g.log().Debug("playNext without a voice session")
		return
	}

	next := e.store.PopNext(g.guildID)
	if next == nil {
		e.store.SetNowPlaying(g.guildID, nil)
		g.stopTicker()
		g.broadcastState()
		return
	}

	// Repeat re-enqueues at pop time, so skipping the only item
	// restarts it.
	if g.repeatAll {
		e.store.Add(g.guildID, *next)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sourceTimeout)
	defer cancel()
	handle, title, err := e.sources.Resolve(ctx, next)
	if err != nil {
		g.log().WithError(err).WithField("track", next.Title).Warn("Source resolution failed")
		e.store.SetNowPlaying(g.guildID, nil)
		g.stopTicker()
		g.broadcastState()
		return
	}
	if title != "" {
		next.Title = title
	}

	if err := g.startSource(handle, next); err != nil {
		g.log().WithError(err).WithField("track", next.Title).Warn("Playback start failed")
		e.store.SetNowPlaying(g.guildID, nil)
		g.stopTicker()
		g.broadcastState()
		return
	}
	g.broadcastState()
}

// startSource hands the resolved source to the voice session and arms
// the on_finish chain. track is nil for the intro asset.
func (g *guildState) startSource(handle *extractor.SourceHandle, track *queue.Track) error {
	e := g.eng

	g.playGen++
	gen := g.playGen
	guildID := g.guildID

	err := g.session.Play(handle, e.opts.EQPresets[g.audioMode], func(playErr error) {
		handle.Close()
		e.submitAsync(guildID, "finish", func(g *guildState) {
			if g.playGen != gen {
				return
			}
			if playErr != nil {
				g.log().WithError(playErr).Warn("Playback ended with error")
			}
			g.playNext()
		})
	})
	if err != nil {
		handle.Close()
		return err
	}

	g.handle = handle
	g.playStartedAt = e.now()
	g.pausedSince = time.Time{}
	g.pausedTotal = 0
	g.touch()

	if track != nil {
		e.store.SetNowPlaying(g.guildID, track)
		g.log().WithField("track", track.Title).Info("Playback started")
		g.startTicker()
	}
	return nil
}

func (g *guildState) stop(userID string) error {
	if err := g.authorize(userID); err != nil {
		return err
	}
	e := g.eng

	g.playGen++
	e.store.Stop(g.guildID)
	if g.session != nil {
		g.session.Stop()
	}
	g.handle = nil
	g.stopTicker()
	g.touch()
	g.broadcastState()
	g.log().Info("Playback stopped, queue cleared")
	return nil
}

func (g *guildState) skip(userID string) error {
	if err := g.authorize(userID); err != nil {
		return err
	}
	g.touch()
	if g.sessionActive() {
		// The stream's on_finish drives the next playNext.
		g.session.Stop()
		return nil
	}
	g.playNext()
	return nil
}

func (g *guildState) pause(userID string) error {
	if err := g.authorize(userID); err != nil {
		return err
	}
	if g.session == nil || !g.session.Pause() {
		return errcode.New(errcode.NotPlaying, "nothing to pause")
	}
	g.pausedSince = g.eng.now()
	g.touch()
	g.broadcastState()
	return nil
}

func (g *guildState) resume(userID string) error {
	if err := g.authorize(userID); err != nil {
		return err
	}
	if g.session == nil || !g.session.Resume() {
		return errcode.New(errcode.NotPlaying, "nothing to resume")
	}
	if !g.pausedSince.IsZero() {
		g.pausedTotal += g.eng.now().Sub(g.pausedSince)
		g.pausedSince = time.Time{}
	}
	g.touch()
	g.broadcastState()
	return nil
}

// togglePause flips between pause and resume and returns the resulting
// paused flag.
func (g *guildState) togglePause(userID string) (bool, error) {
	if g.session != nil && g.session.IsPaused() {
		if err := g.resume(userID); err != nil {
			return true, err
		}
		return false, nil
	}
	if err := g.pause(userID); err != nil {
		return false, err
	}
	return true, nil
}

func (g *guildState) removeAt(userID string, index int) error {
	e := g.eng

	items := e.store.PeekAll(g.guildID)
	if index < 0 || index >= len(items) {
		return errcode.Newf(errcode.BadArgument, "index %d out of range", index)
	}
	track := items[index]
	if !e.auth.CanEditItem(g.guildID, userID, &track) {
		return errcode.Newf(errcode.PriorityForbidden, "user %s may not remove %q", userID, track.Title)
	}
	if !e.store.RemoveAt(g.guildID, index) {
		return errcode.Newf(errcode.Internal, "remove at %d failed", index)
	}
	g.touch()
	g.broadcastState()
	return nil
}

func (g *guildState) move(userID string, src, dst int) error {
	e := g.eng

	items := e.store.PeekAll(g.guildID)
	n := len(items)
	if src < 0 || src >= n || dst < 0 || dst >= n {
		return errcode.Newf(errcode.MoveFailed, "move %d -> %d out of range", src, dst)
	}
	track := items[src]
	if !e.auth.CanEditItem(g.guildID, userID, &track) {
		return errcode.Newf(errcode.PriorityForbidden, "user %s may not move %q", userID, track.Title)
	}

	boundary := priority.FirstNonPriorityIndex(items)
	if crossesBoundary(src, dst, boundary) && !e.auth.BypassQuota(g.guildID, userID) {
		return errcode.New(errcode.PriorityForbidden, "move crosses the priority boundary")
	}

	if !e.store.Move(g.guildID, src, dst) {
		return errcode.Newf(errcode.MoveFailed, "move %d -> %d failed", src, dst)
	}
	g.touch()
	g.broadcastState()
	return nil
}

// crossesBoundary reports whether a move leaves or enters the priority
// band [0, boundary).
func crossesBoundary(src, dst, boundary int) bool {
	return (src < boundary) != (dst < boundary)
}

func (g *guildState) toggleRepeat(mode string) (bool, error) {
	switch mode {
	case "on":
		g.repeatAll = true
	case "off":
		g.repeatAll = false
	case "toggle":
		g.repeatAll = !g.repeatAll
	default:
		return g.repeatAll, errcode.Newf(errcode.BadArgument, "repeat mode %q, want on, off or toggle", mode)
	}
	g.touch()
	g.broadcastState()
	return g.repeatAll, nil
}

func (g *guildState) setAudioMode(mode string) error {
	if _, ok := g.eng.opts.EQPresets[mode]; !ok {
		return errcode.Newf(errcode.BadArgument, "unknown audio mode %q", mode)
	}
	g.audioMode = mode
	g.touch()
	return nil
}

// restart re-resolves the current track and plays it from the top.
func (g *guildState) restart(userID string) error {
	if err := g.authorize(userID); err != nil {
		return err
	}
	e := g.eng

	current := e.store.NowPlaying(g.guildID)
	if current == nil || g.session == nil {
		return errcode.New(errcode.NotPlaying, "nothing to restart")
	}

	ctx, cancel := context.WithTimeout(context.Background(), sourceTimeout)
	defer cancel()
	handle, title, err := e.sources.Resolve(ctx, current)
	if err != nil {
		return err
	}
	if title != "" {
		current.Title = title
	}
	if err := g.startSource(handle, current); err != nil {
		return err
	}
	g.broadcastState()
	return nil
}

// playAt promotes the queued track at index to play immediately,
// replacing whatever is playing.
func (g *guildState) playAt(userID string, index int) error {
	e := g.eng

	items := e.store.PeekAll(g.guildID)
	if index < 0 || index >= len(items) {
		return errcode.Newf(errcode.BadArgument, "index %d out of range", index)
	}
	if err := g.authorize(userID); err != nil {
		return err
	}
	if g.session == nil || !g.session.IsConnected() {
		return errcode.New(errcode.NoVoice, "no voice session")
	}
	track := items[index]

	ctx, cancel := context.WithTimeout(context.Background(), sourceTimeout)
	defer cancel()
	handle, title, err := e.sources.Resolve(ctx, &track)
	if err != nil {
		return err
	}
	if title != "" {
		track.Title = title
	}

	e.store.RemoveAt(g.guildID, index)
	if err := g.startSource(handle, &track); err != nil {
		return err
	}
	g.broadcastState()
	return nil
}

// join connects the guild session to the requester's voice channel and
// returns the channel ID.
func (g *guildState) join(userID string) (string, error) {
	e := g.eng
	if userID == "" {
		return "", errcode.New(errcode.MissingUserID, "user id required")
	}
	if !e.dialer.Ready() {
		return "", errcode.New(errcode.BotNotReady, "gateway not connected")
	}
	channelID, err := e.dialer.UserVoiceChannel(g.guildID, userID)
	if err != nil {
		return "", err
	}
	if err := g.connect(channelID); err != nil {
		return "", err
	}
	return channelID, nil
}

// idleCheck releases the voice session after sustained inactivity.
func (g *guildState) idleCheck() {
	e := g.eng
	if g.session == nil {
		return
	}
	if g.sessionActive() || e.store.NowPlaying(g.guildID) != nil {
		g.touch()
		return
	}
	if e.now().Sub(g.lastActive) < e.opts.IdleTimeout {
		return
	}
	g.log().Info("Releasing idle voice session")
	g.session.Disconnect()
	g.session = nil
}

func (g *guildState) debug() map[string]any {
	e := g.eng
	d := map[string]any{
		"connected":  g.session != nil && g.session.IsConnected(),
		"playing":    g.session != nil && g.session.IsPlaying(),
		"paused":     g.session != nil && g.session.IsPaused(),
		"repeat_all": g.repeatAll,
		"audio_mode": g.audioMode,
		"queue_len":  e.store.Len(g.guildID),
	}
	if g.session != nil {
		d["channel_id"] = g.session.CurrentChannel()
	}
	if current := e.store.NowPlaying(g.guildID); current != nil {
		d["now_playing"] = current.Title
	}
	return d
}

func (g *guildState) shutdown() {
	g.playGen++
	g.stopTicker()
	if g.session != nil {
		g.session.Disconnect()
		g.session = nil
	}
	if g.handle != nil {
		g.handle.Close()
		g.handle = nil
	}
}
