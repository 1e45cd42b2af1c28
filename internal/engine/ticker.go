package engine

import (
	"context"
	"time"
)

// ticker drives the per-guild 1 Hz progress broadcast. Each tick is
// submitted to the guild actor so the projection reads consistent
// state.
type ticker struct {
	cancel context.CancelFunc
}

func (g *guildState) startTicker() {
	if g.tick != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.tick = &ticker{cancel: cancel}

	e, guildID := g.eng, g.guildID
	go func() {
		tk := time.NewTicker(time.Second)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				e.submitAsync(guildID, "tick", (*guildState).emitProgress)
			}
		}
	}()
}

func (g *guildState) stopTicker() {
	if g.tick == nil {
		return
	}
	g.tick.cancel()
	g.tick = nil
}
