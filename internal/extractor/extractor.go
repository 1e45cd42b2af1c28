// Package extractor resolves track requests (URLs or free-text queries)
// into playable audio sources. Providers are probed in a fixed order;
// stream resolution falls back from a direct media URL to a piped child
// process emitting raw audio on stdout.
package extractor

import (
	"context"
	"io"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/discord-jukebox/internal/queue"
)

// Options carries the optional capabilities a caller may offer an
// extractor. Extractors use the fields they understand and ignore the
// rest.
type Options struct {
	TranscoderPath string
	CookiesFile    string
	RateLimit      int    // bytes/s, 0 = unlimited
	AudioFilter    string // ffmpeg -af expression, consumed by the voice layer
}

// SourceHandle is what the voice session consumes. Exactly one of URL
// (remote source fetched by the transcoder) or Reader (raw audio from a
// child process) is set.
type SourceHandle struct {
	URL     string
	Headers map[string]string

	Reader io.ReadCloser
	cmd    *exec.Cmd
}

// Piped reports whether the handle wraps a child-process stream.
func (h *SourceHandle) Piped() bool {
	return h.Reader != nil
}

// Close releases the handle. For piped handles the child process is
// killed and reaped; safe to call more than once.
func (h *SourceHandle) Close() {
	if h.Reader != nil {
		_ = h.Reader.Close()
	}
	if h.cmd != nil && h.cmd.Process != nil {
		if err := h.cmd.Process.Kill(); err != nil {
			logrus.WithError(err).Debug("Failed to kill extractor child process")
		}
		_ = h.cmd.Wait()
		h.cmd = nil
	}
}

// Extractor is the minimum provider contract.
type Extractor interface {
	Provider() queue.Provider

	// IsValid reports whether the extractor handles the given URL.
	IsValid(rawURL string) bool

	// Stream resolves a direct media source: a URL plus headers the
	// transcoder can fetch, and the real title.
	Stream(ctx context.Context, rawURL string, opts Options) (*SourceHandle, string, error)
}

// PipeStreamer is the optional fallback stage: a child process writing
// the audio stream to stdout.
type PipeStreamer interface {
	StreamPipe(ctx context.Context, rawURL string, opts Options) (*SourceHandle, string, error)
}

// Searcher turns a free-text query into track summaries.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, opts Options) ([]queue.Track, error)
}

// BundleExpander handles playlist/mix URLs.
type BundleExpander interface {
	IsBundle(rawURL string) bool
	ExpandBundle(ctx context.Context, rawURL string, limit int, opts Options) ([]queue.Track, error)
}
