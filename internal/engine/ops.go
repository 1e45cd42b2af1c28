package engine

import (
	"context"

	"github.com/fankserver/discord-jukebox/internal/errcode"
)

// The public operations all submit to the guild's actor and await the
// reply under the caller's deadline.

func requireGuild(guildID string) error {
	if guildID == "" {
		return errcode.New(errcode.MissingGuildID, "guild id required")
	}
	return nil
}

// Enqueue normalizes item and adds it under the requester's weight.
// When the guild was idle a best-effort autoplay attempt is reported in
// the result.
func (e *Engine) Enqueue(ctx context.Context, guildID, userID, item string) (*EnqueueResult, error) {
	if err := requireGuild(guildID); err != nil {
		return nil, err
	}
	v, err := e.submit(ctx, guildID, "enqueue", func(g *guildState) (any, error) {
		return g.enqueue(userID, item)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EnqueueResult), nil
}

// PlayForUser joins the requester's voice channel, enqueues the item
// (expanding bundles) and starts playback when idle.
func (e *Engine) PlayForUser(ctx context.Context, guildID, userID, item string) (*EnqueueResult, error) {
	if err := requireGuild(guildID); err != nil {
		return nil, err
	}
	v, err := e.submit(ctx, guildID, "play_for_user", func(g *guildState) (any, error) {
		return g.playForUser(userID, item)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EnqueueResult), nil
}

// Skip advances past the current track.
func (e *Engine) Skip(ctx context.Context, guildID, userID string) error {
	if err := requireGuild(guildID); err != nil {
		return err
	}
	_, err := e.submit(ctx, guildID, "skip", func(g *guildState) (any, error) {
		return nil, g.skip(userID)
	})
	return err
}

// Stop clears the queue and halts playback, leaving the session
// connected but idle.
func (e *Engine) Stop(ctx context.Context, guildID, userID string) error {
	if err := requireGuild(guildID); err != nil {
		return err
	}
	_, err := e.submit(ctx, guildID, "stop", func(g *guildState) (any, error) {
		return nil, g.stop(userID)
	})
	return err
}

// Pause suspends playback.
func (e *Engine) Pause(ctx context.Context, guildID, userID string) error {
	if err := requireGuild(guildID); err != nil {
		return err
	}
	_, err := e.submit(ctx, guildID, "pause", func(g *guildState) (any, error) {
		return nil, g.pause(userID)
	})
	return err
}

// Resume continues paused playback.
func (e *Engine) Resume(ctx context.Context, guildID, userID string) error {
	if err := requireGuild(guildID); err != nil {
		return err
	}
	_, err := e.submit(ctx, guildID, "resume", func(g *guildState) (any, error) {
		return nil, g.resume(userID)
	})
	return err
}

// TogglePause flips the pause state and returns the resulting paused
// flag.
func (e *Engine) TogglePause(ctx context.Context, guildID, userID string) (bool, error) {
	if err := requireGuild(guildID); err != nil {
		return false, err
	}
	v, err := e.submit(ctx, guildID, "toggle_pause", func(g *guildState) (any, error) {
		return g.togglePause(userID)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// RemoveAt removes the queued track at index.
func (e *Engine) RemoveAt(ctx context.Context, guildID, userID string, index int) error {
	if err := requireGuild(guildID); err != nil {
		return err
	}
	_, err := e.submit(ctx, guildID, "remove_at", func(g *guildState) (any, error) {
		return nil, g.removeAt(userID, index)
	})
	return err
}

// Move relocates the queued track at src to dst.
func (e *Engine) Move(ctx context.Context, guildID, userID string, src, dst int) error {
	if err := requireGuild(guildID); err != nil {
		return err
	}
	_, err := e.submit(ctx, guildID, "move", func(g *guildState) (any, error) {
		return nil, g.move(userID, src, dst)
	})
	return err
}

// ToggleRepeat sets repeat-all to mode (on, off or toggle) and returns
// the resulting value.
func (e *Engine) ToggleRepeat(ctx context.Context, guildID, mode string) (bool, error) {
	if err := requireGuild(guildID); err != nil {
		return false, err
	}
	v, err := e.submit(ctx, guildID, "toggle_repeat", func(g *guildState) (any, error) {
		return g.toggleRepeat(mode)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// SetAudioMode selects the named EQ preset for subsequent tracks.
func (e *Engine) SetAudioMode(ctx context.Context, guildID, mode string) error {
	if err := requireGuild(guildID); err != nil {
		return err
	}
	_, err := e.submit(ctx, guildID, "audio_mode", func(g *guildState) (any, error) {
		return nil, g.setAudioMode(mode)
	})
	return err
}

// Restart replays the current track from position zero.
func (e *Engine) Restart(ctx context.Context, guildID, userID string) error {
	if err := requireGuild(guildID); err != nil {
		return err
	}
	_, err := e.submit(ctx, guildID, "restart", func(g *guildState) (any, error) {
		return nil, g.restart(userID)
	})
	return err
}

// PlayAt promotes the queued track at index to play immediately.
func (e *Engine) PlayAt(ctx context.Context, guildID, userID string, index int) error {
	if err := requireGuild(guildID); err != nil {
		return err
	}
	_, err := e.submit(ctx, guildID, "play_at", func(g *guildState) (any, error) {
		return nil, g.playAt(userID, index)
	})
	return err
}

// Join connects the guild to the requester's voice channel and returns
// its ID.
func (e *Engine) Join(ctx context.Context, guildID, userID string) (string, error) {
	if err := requireGuild(guildID); err != nil {
		return "", err
	}
	v, err := e.submit(ctx, guildID, "join", func(g *guildState) (any, error) {
		return g.join(userID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// State returns the projected overlay state of the guild.
func (e *Engine) State(ctx context.Context, guildID string) (*ProjectedState, error) {
	if err := requireGuild(guildID); err != nil {
		return nil, err
	}
	v, err := e.submit(ctx, guildID, "state", func(g *guildState) (any, error) {
		return g.project(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProjectedState), nil
}

// Debug returns playback diagnostics for the guild.
func (e *Engine) Debug(ctx context.Context, guildID string) (map[string]any, error) {
	if err := requireGuild(guildID); err != nil {
		return nil, err
	}
	v, err := e.submit(ctx, guildID, "debug", func(g *guildState) (any, error) {
		return g.debug(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}
