package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const (
	metadataCacheSize = 512
	metadataTimeout   = 3 * time.Second
)

// oEmbedProvider is implemented by extractors that expose a cheap
// metadata endpoint.
type oEmbedProvider interface {
	OEmbedURL(rawURL string) string
}

// Metadata is the cheap lookup result used to fill missing track fields.
type Metadata struct {
	Title     string `json:"title"`
	Author    string `json:"author_name"`
	Thumbnail string `json:"thumbnail_url"`
}

// MetadataCache wraps an LRU of oEmbed lookups.
type MetadataCache struct {
	cache  *lru.Cache[string, Metadata]
	client *http.Client
}

// NewMetadataCache creates the lookup cache.
func NewMetadataCache() *MetadataCache {
	cache, _ := lru.New[string, Metadata](metadataCacheSize)
	return &MetadataCache{
		cache:  cache,
		client: &http.Client{Timeout: metadataTimeout},
	}
}

// Lookup fetches metadata for rawURL from endpoint, consulting the cache
// first. A failed fetch returns a zero Metadata without caching it.
func (m *MetadataCache) Lookup(ctx context.Context, rawURL, endpoint string) Metadata {
	if meta, ok := m.cache.Get(rawURL); ok {
		return meta
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Metadata{}
	}
	resp, err := m.client.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("url", rawURL).Debug("Metadata lookup failed")
		return Metadata{}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return Metadata{}
	}

	var meta Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		logrus.WithError(err).WithField("url", rawURL).Debug("Metadata decode failed")
		return Metadata{}
	}

	m.cache.Add(rawURL, meta)
	return meta
}

// ParseDuration coerces a duration string to integer seconds. Accepts
// bare seconds ("273"), M:SS ("4:31") and H:MM:SS ("1:02:03").
func ParseDuration(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("malformed duration %q", s)
	}

	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("malformed duration %q", s)
		}
		total = total*60 + n
	}
	return total, nil
}
