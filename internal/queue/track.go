package queue

// Provider identifies the service a track was sourced from.
type Provider string

const (
	ProviderYouTube    Provider = "youtube"
	ProviderSoundCloud Provider = "soundcloud"
	ProviderBandcamp   Provider = "bandcamp"
)

// Track is a single queued or playing item. Either URL or Title must be
// usable to resolve an audio source; RequestedBy is always set.
type Track struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Artist      string   `json:"artist,omitempty"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	DurationS   int      `json:"duration_s,omitempty"`
	Provider    Provider `json:"provider,omitempty"`
	RequestedBy string   `json:"requested_by"`
	Priority    int      `json:"priority"`
	EnqueuedAt  int64    `json:"enqueued_at,omitempty"`
}

// Playable reports whether the track carries enough information to
// resolve an audio source.
func (t *Track) Playable() bool {
	return t.URL != "" || t.Title != ""
}
