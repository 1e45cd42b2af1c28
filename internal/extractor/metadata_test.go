package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"273", 273, false},
		{"4:31", 271, false},
		{"1:02:03", 3723, false},
		{"0:59", 59, false},
		{" 90 ", 90, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1:2:3:4", 0, true},
		{"-5", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetadataLookupCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Song","author_name":"Artist","thumbnail_url":"https://img/1.jpg"}`))
	}))
	defer srv.Close()

	m := NewMetadataCache()
	ctx := context.Background()

	meta := m.Lookup(ctx, "https://x/watch?v=1", srv.URL)
	assert.Equal(t, "Song", meta.Title)
	assert.Equal(t, "Artist", meta.Author)
	assert.Equal(t, "https://img/1.jpg", meta.Thumbnail)

	m.Lookup(ctx, "https://x/watch?v=1", srv.URL)
	assert.Equal(t, int32(1), hits.Load(), "second lookup must hit the cache")
}

func TestMetadataLookupFailureNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := NewMetadataCache()
	ctx := context.Background()

	assert.Empty(t, m.Lookup(ctx, "https://x/watch?v=2", srv.URL).Title)
	m.Lookup(ctx, "https://x/watch?v=2", srv.URL)
	assert.Equal(t, int32(2), hits.Load(), "failures are retried, not cached")
}
