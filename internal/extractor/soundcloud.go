package extractor

import (
	"context"
	"net/url"
	"strings"

	"github.com/fankserver/discord-jukebox/internal/queue"
)

// SoundCloud supports URL playback and set (bundle) expansion.
type SoundCloud struct{}

func (s *SoundCloud) Provider() queue.Provider { return queue.ProviderSoundCloud }

func (s *SoundCloud) IsValid(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return host == "soundcloud.com" || host == "on.soundcloud.com" || host == "m.soundcloud.com"
}

// IsBundle matches set URLs (/artist/sets/name).
func (s *SoundCloud) IsBundle(rawURL string) bool {
	if !s.IsValid(rawURL) {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, "/sets/")
}

func (s *SoundCloud) Stream(ctx context.Context, rawURL string, opts Options) (*SourceHandle, string, error) {
	return directStream(ctx, rawURL, opts)
}

func (s *SoundCloud) StreamPipe(ctx context.Context, rawURL string, opts Options) (*SourceHandle, string, error) {
	return pipeStream(ctx, rawURL, opts)
}

func (s *SoundCloud) ExpandBundle(ctx context.Context, rawURL string, limit int, opts Options) ([]queue.Track, error) {
	return expandBundle(ctx, rawURL, limit, queue.ProviderSoundCloud, opts)
}

// OEmbedURL returns the metadata endpoint for a track URL.
func (s *SoundCloud) OEmbedURL(rawURL string) string {
	return "https://soundcloud.com/oembed?format=json&url=" + url.QueryEscape(rawURL)
}
