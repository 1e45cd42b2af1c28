package extractor

import (
	"context"
	"net/url"
	"strings"

	"github.com/fankserver/discord-jukebox/internal/errcode"
	"github.com/fankserver/discord-jukebox/internal/queue"
)

// Bandcamp only advertises the piped stage; direct resolution is not
// reliable for its CDN, so Stream always defers to the fallback.
type Bandcamp struct{}

func (b *Bandcamp) Provider() queue.Provider { return queue.ProviderBandcamp }

func (b *Bandcamp) IsValid(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Host), "bandcamp.com")
}

// IsBundle matches album URLs.
func (b *Bandcamp) IsBundle(rawURL string) bool {
	if !b.IsValid(rawURL) {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, "/album/")
}

func (b *Bandcamp) Stream(ctx context.Context, rawURL string, opts Options) (*SourceHandle, string, error) {
	return nil, "", errcode.New(errcode.ExtractionFailed, "bandcamp has no direct stage")
}

func (b *Bandcamp) StreamPipe(ctx context.Context, rawURL string, opts Options) (*SourceHandle, string, error) {
	return pipeStream(ctx, rawURL, opts)
}

func (b *Bandcamp) ExpandBundle(ctx context.Context, rawURL string, limit int, opts Options) ([]queue.Track, error) {
	return expandBundle(ctx, rawURL, limit, queue.ProviderBandcamp, opts)
}
