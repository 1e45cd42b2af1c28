package extractor

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/discord-jukebox/internal/errcode"
	"github.com/fankserver/discord-jukebox/internal/queue"
)

// BundleLimit caps how many tracks a playlist URL expands to.
const BundleLimit = 10

// Pipeline routes requests to the registered extractors. The first
// extractor is the default provider for free-text queries; detection
// order is registration order.
type Pipeline struct {
	extractors []Extractor
	meta       *MetadataCache
	opts       Options
}

// NewPipeline builds the default provider chain.
func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{
		extractors: []Extractor{&YouTube{}, &SoundCloud{}, &Bandcamp{}},
		meta:       NewMetadataCache(),
		opts:       opts,
	}
}

// NewPipelineWith builds a pipeline over explicit extractors (tests).
func NewPipelineWith(opts Options, extractors ...Extractor) *Pipeline {
	return &Pipeline{extractors: extractors, meta: NewMetadataCache(), opts: opts}
}

// Detect returns the extractor responsible for rawURL; the first match
// wins.
func (p *Pipeline) Detect(rawURL string) (Extractor, bool) {
	for _, ex := range p.extractors {
		if ex.IsValid(rawURL) {
			return ex, true
		}
	}
	return nil, false
}

// IsBundle reports whether rawURL addresses a playlist/mix of its
// provider.
func (p *Pipeline) IsBundle(rawURL string) bool {
	ex, ok := p.Detect(rawURL)
	if !ok {
		return false
	}
	be, ok := ex.(BundleExpander)
	return ok && be.IsBundle(rawURL)
}

// Normalize turns a URL or free-text query into a canonical Track.
// Free text becomes a search on the default provider; missing metadata
// fields are filled by a cheap cached lookup.
func (p *Pipeline) Normalize(ctx context.Context, input string) (queue.Track, error) {
	if ex, ok := p.Detect(input); ok {
		track := queue.Track{URL: input, Provider: ex.Provider()}
		p.fillMetadata(ctx, ex, &track)
		return track, nil
	}

	// Not a recognized URL: treat as a search query on the default
	// provider.
	if len(p.extractors) == 0 {
		return queue.Track{}, errcode.New(errcode.ProviderUnsupported, "no extractors registered")
	}
	searcher, ok := p.extractors[0].(Searcher)
	if !ok {
		return queue.Track{}, errcode.New(errcode.ProviderUnsupported, "default provider cannot search")
	}

	results, err := searcher.Search(ctx, input, 1, p.opts)
	if err != nil {
		return queue.Track{}, err
	}
	if len(results) == 0 {
		return queue.Track{}, errcode.Newf(errcode.ExtractionFailed, "no results for %q", input)
	}
	return results[0], nil
}

// Resolve runs the two-stage fallback for track: direct stream first,
// then the piped stream. Only when both stages fail does the error
// escape.
func (p *Pipeline) Resolve(ctx context.Context, track *queue.Track) (*SourceHandle, string, error) {
	ex, ok := p.Detect(track.URL)
	if !ok {
		return nil, "", errcode.Newf(errcode.ProviderUnsupported, "no provider for %q", track.URL)
	}

	log := logrus.WithFields(logrus.Fields{
		"provider": ex.Provider(),
		"url":      track.URL,
	})

	handle, title, err := ex.Stream(ctx, track.URL, p.opts)
	if err == nil {
		log.WithField("title", title).Debug("Resolved direct stream")
		return handle, title, nil
	}
	log.WithError(err).Debug("Direct stream failed, trying pipe")

	ps, ok := ex.(PipeStreamer)
	if !ok {
		return nil, "", err
	}
	handle, title, perr := ps.StreamPipe(ctx, track.URL, p.opts)
	if perr != nil {
		log.WithError(perr).Warn("Piped stream failed")
		return nil, "", perr
	}
	log.WithField("title", title).Debug("Resolved piped stream")
	return handle, title, nil
}

// ExpandBundle returns up to BundleLimit tracks for a playlist URL, in
// playlist order.
func (p *Pipeline) ExpandBundle(ctx context.Context, rawURL string) ([]queue.Track, error) {
	ex, ok := p.Detect(rawURL)
	if !ok {
		return nil, errcode.Newf(errcode.ProviderUnsupported, "no provider for %q", rawURL)
	}
	be, ok := ex.(BundleExpander)
	if !ok || !be.IsBundle(rawURL) {
		return nil, errcode.Newf(errcode.BadArgument, "%q is not a bundle", rawURL)
	}
	return be.ExpandBundle(ctx, rawURL, BundleLimit, p.opts)
}

// fillMetadata completes missing title/artist/thumbnail from the
// provider's oEmbed endpoint, when it has one.
func (p *Pipeline) fillMetadata(ctx context.Context, ex Extractor, track *queue.Track) {
	if track.Title != "" && track.Artist != "" && track.Thumbnail != "" {
		return
	}
	oe, ok := ex.(oEmbedProvider)
	if !ok {
		return
	}
	meta := p.meta.Lookup(ctx, track.URL, oe.OEmbedURL(track.URL))
	if track.Title == "" {
		track.Title = meta.Title
	}
	if track.Artist == "" {
		track.Artist = meta.Author
	}
	if track.Thumbnail == "" {
		track.Thumbnail = meta.Thumbnail
	}
}
