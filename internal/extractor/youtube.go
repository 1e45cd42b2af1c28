package extractor

import (
	"context"
	"net/url"
	"strings"

	"github.com/fankserver/discord-jukebox/internal/queue"
)

// YouTube is the default provider: URL playback, search and playlist
// (bundle) expansion.
type YouTube struct{}

func (y *YouTube) Provider() queue.Provider { return queue.ProviderYouTube }

func (y *YouTube) IsValid(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
		return true
	}
	return false
}

// IsBundle reports whether the URL addresses a playlist or mix.
func (y *YouTube) IsBundle(rawURL string) bool {
	if !y.IsValid(rawURL) {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if strings.HasPrefix(u.Path, "/playlist") {
		return true
	}
	return u.Query().Get("list") != ""
}

func (y *YouTube) Stream(ctx context.Context, rawURL string, opts Options) (*SourceHandle, string, error) {
	return directStream(ctx, rawURL, opts)
}

func (y *YouTube) StreamPipe(ctx context.Context, rawURL string, opts Options) (*SourceHandle, string, error) {
	return pipeStream(ctx, rawURL, opts)
}

func (y *YouTube) Search(ctx context.Context, query string, limit int, opts Options) ([]queue.Track, error) {
	return searchTracks(ctx, "ytsearch", query, limit, queue.ProviderYouTube, opts)
}

func (y *YouTube) ExpandBundle(ctx context.Context, rawURL string, limit int, opts Options) ([]queue.Track, error) {
	return expandBundle(ctx, rawURL, limit, queue.ProviderYouTube, opts)
}

// OEmbedURL returns the metadata endpoint for a watch URL.
func (y *YouTube) OEmbedURL(rawURL string) string {
	return "https://www.youtube.com/oembed?format=json&url=" + url.QueryEscape(rawURL)
}
