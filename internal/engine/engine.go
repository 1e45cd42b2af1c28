// Package engine drives per-guild playback: it owns the queue, the
// voice session and the repeat/pause bookkeeping of every guild, and
// serializes all mutations through one actor goroutine per guild.
// Callers submit commands and await the reply with a deadline; a missed
// deadline surfaces as a timeout to the caller but never aborts the
// command, which still runs to completion and broadcasts its result.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/discord-jukebox/internal/errcode"
	"github.com/fankserver/discord-jukebox/internal/extractor"
	"github.com/fankserver/discord-jukebox/internal/priority"
	"github.com/fankserver/discord-jukebox/internal/queue"
)

const (
	defaultCommandTimeout = 10 * time.Second
	defaultIdleTimeout    = 10 * time.Minute
	idleSweepInterval     = time.Minute

	// sourceTimeout bounds extractor work (probe, search, bundle
	// expansion) independently of the caller's deadline.
	sourceTimeout = 60 * time.Second

	eventPlaylistUpdate = "playlist_update"
)

// VoiceSession is the per-guild voice surface the engine drives.
// Implemented by voice.Session; tests supply fakes.
type VoiceSession interface {
	EnsureConnected(channelID string) (bool, error)
	IsConnected() bool
	CurrentChannel() string
	Play(handle *extractor.SourceHandle, audioFilter string, onFinish func(error)) error
	Stop()
	Pause() bool
	Resume() bool
	IsPlaying() bool
	IsPaused() bool
	Disconnect()
}

// VoiceDialer resolves voice state and opens guild sessions.
type VoiceDialer interface {
	Ready() bool
	UserVoiceChannel(guildID, userID string) (string, error)
	OpenSession(guildID, channelID string) (VoiceSession, error)
}

// SourceResolver turns requests into tracks and tracks into playable
// sources. Implemented by extractor.Pipeline.
type SourceResolver interface {
	Normalize(ctx context.Context, input string) (queue.Track, error)
	Resolve(ctx context.Context, track *queue.Track) (*extractor.SourceHandle, string, error)
	IsBundle(rawURL string) bool
	ExpandBundle(ctx context.Context, rawURL string) ([]queue.Track, error)
}

// Authorizer answers capability questions. Implemented by
// priority.Resolver.
type Authorizer interface {
	UserMeta(guildID, userID string) priority.UserMeta
	BypassQuota(guildID, userID string) bool
	CanBumpOver(guildID, userID string, current *queue.Track) bool
	CanEditItem(guildID, userID string, track *queue.Track) bool
}

// Broadcaster fans state out to the guild's overlay room. Implemented
// by overlay.Hub.
type Broadcaster interface {
	BroadcastToGuild(guildID, event string, payload any)
}

// Options tunes the engine.
type Options struct {
	PerUserCap     int
	EQPresets      map[string]string
	IntroAssetPath string
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
}

// Engine owns all guild actors.
type Engine struct {
	store   *queue.Store
	auth    Authorizer
	sources SourceResolver
	dialer  VoiceDialer
	cast    Broadcaster
	opts    Options

	now func() time.Time

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
}

// New wires an engine over its collaborators.
func New(store *queue.Store, auth Authorizer, sources SourceResolver, dialer VoiceDialer, cast Broadcaster, opts Options) *Engine {
	if opts.PerUserCap <= 0 {
		opts.PerUserCap = 10
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.EQPresets == nil {
		opts.EQPresets = map[string]string{"off": ""}
	}
	return &Engine{
		store:   store,
		auth:    auth,
		sources: sources,
		dialer:  dialer,
		cast:    cast,
		opts:    opts,
		now:     time.Now,
		actors:  make(map[string]*actor),
	}
}

// Run drives the idle-session sweeper until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			ids := make([]string, 0, len(e.actors))
			for id := range e.actors {
				ids = append(ids, id)
			}
			e.mu.Unlock()
			for _, id := range ids {
				e.submitAsync(id, "idle_check", (*guildState).idleCheck)
			}
		}
	}
}

// Close shuts every guild actor down, disconnecting voice sessions.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	actors := make([]*actor, 0, len(e.actors))
	for _, a := range e.actors {
		actors = append(actors, a)
	}
	e.mu.Unlock()

	for _, a := range actors {
		done := make(chan result, 1)
		a.push(&command{name: "shutdown", done: done, run: func(g *guildState) (any, error) {
			g.shutdown()
			return nil, nil
		}})
		<-done
		a.close()
	}
}

// command is one unit of serialized guild work. done is nil for
// fire-and-forget submissions.
type command struct {
	name string
	run  func(g *guildState) (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// actor serializes all work for one guild through a single goroutine
// draining an unbounded FIFO inbox.
type actor struct {
	guildID string
	state   *guildState

	mu     sync.Mutex
	cond   *sync.Cond
	inbox  []*command
	closed bool
}

func newActor(e *Engine, guildID string) *actor {
	a := &actor{
		guildID: guildID,
		state: &guildState{
			eng:        e,
			guildID:    guildID,
			audioMode:  "off",
			lastActive: e.now(),
		},
	}
	a.cond = sync.NewCond(&a.mu)
	go a.loop()
	return a
}

func (a *actor) push(cmd *command) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		if cmd.done != nil {
			cmd.done <- result{err: errcode.New(errcode.PlayerUnavailable, "engine is shut down")}
		}
		return
	}
	a.inbox = append(a.inbox, cmd)
	a.cond.Signal()
}

func (a *actor) close() {
	a.mu.Lock()
	a.closed = true
	a.cond.Signal()
	a.mu.Unlock()
}

func (a *actor) loop() {
	for {
		a.mu.Lock()
		for len(a.inbox) == 0 && !a.closed {
			a.cond.Wait()
		}
		if len(a.inbox) == 0 && a.closed {
			a.mu.Unlock()
			return
		}
		cmd := a.inbox[0]
		a.inbox = a.inbox[1:]
		a.mu.Unlock()

		value, err := cmd.run(a.state)
		if cmd.done != nil {
			cmd.done <- result{value: value, err: err}
		}
	}
}

func (e *Engine) actorFor(guildID string) (*actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errcode.New(errcode.PlayerUnavailable, "engine is shut down")
	}
	a, ok := e.actors[guildID]
	if !ok {
		a = newActor(e, guildID)
		e.actors[guildID] = a
	}
	return a, nil
}

// submit runs fn on the guild actor and awaits the reply. Without a
// caller deadline the default command timeout applies. On deadline the
// caller gets ENGINE_TIMEOUT but the command still runs and its
// broadcast still fires.
func (e *Engine) submit(ctx context.Context, guildID, name string, fn func(g *guildState) (any, error)) (any, error) {
	a, err := e.actorFor(guildID)
	if err != nil {
		return nil, err
	}

	cmd := &command{name: name, run: fn, done: make(chan result, 1)}
	a.push(cmd)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.CommandTimeout)
		defer cancel()
	}

	select {
	case res := <-cmd.done:
		return res.value, res.err
	case <-ctx.Done():
		logrus.WithFields(logrus.Fields{
			"guild_id": guildID,
			"command":  name,
		}).Warn("Engine command deadline missed, command continues")
		return nil, errcode.Wrap(errcode.EngineTimeout, ctx.Err())
	}
}

// submitAsync runs fn on the guild actor without awaiting a reply.
func (e *Engine) submitAsync(guildID, name string, fn func(g *guildState)) {
	a, err := e.actorFor(guildID)
	if err != nil {
		logrus.WithField("guild_id", guildID).WithError(err).Debug("Dropping async engine command")
		return
	}
	a.push(&command{name: name, run: func(g *guildState) (any, error) {
		fn(g)
		return nil, nil
	}})
}
