package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingServer struct {
	Server   *httptest.Server
	Requests atomic.Int32
	Body     atomic.Value
}

func newCountingServer(t *testing.T, body string) *countingServer {
	s := &countingServer{}
	s.Body.Store(body)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Requests.Add(1)
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("X-Api-Key") != "" {
			w.Write([]byte(r.Header.Get("X-Api-Key")))
			return
		}
		w.Write([]byte(s.Body.Load().(string)))
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func TestHTTPGet(t *testing.T) {
	s := newCountingServer(t, "hello")
	ctx := context.Background()

	body, err := HTTPGet(ctx, s.Server.URL, nil, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	body, err = HTTPGet(ctx, s.Server.URL, map[string]string{"X-Api-Key": "secret"}, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "secret", string(body))

	_, err = HTTPGet(ctx, s.Server.URL+"/missing", nil, GetOptions{})
	assert.Error(t, err)

	_, err = HTTPGet(ctx, s.Server.URL, nil, GetOptions{MaxSize: 3})
	assert.ErrorIs(t, err, ErrTooLarge)

	body, err = HTTPGet(ctx, s.Server.URL, nil, GetOptions{MaxSize: 5})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestMemoryDownloaderCache(t *testing.T) {
	s := newCountingServer(t, "v1")
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewMemoryDownloader()
	d.TimeNow = func() time.Time { return now }

	opts := GetOptions{Cache: true, CacheTTL: time.Minute}

	body, err := d.Get(ctx, s.Server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(body))

	s.Body.Store("v2")
	body, err = d.Get(ctx, s.Server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(body))
	assert.Equal(t, int32(1), s.Requests.Load())

	now = now.Add(2 * time.Minute)
	body, err = d.Get(ctx, s.Server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(body))
	assert.Equal(t, int32(2), s.Requests.Load())

	// Uncached requests always go out
	_, err = d.Get(ctx, s.Server.URL, nil, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), s.Requests.Load())
}

func TestMemoryDownloaderHeaders(t *testing.T) {
	s := newCountingServer(t, "")
	ctx := context.Background()
	d := NewMemoryDownloader()
	opts := GetOptions{Cache: true, CacheTTL: time.Hour}

	for _, key := range []string{"k1", "k2", "k1", "k2"} {
		body, err := d.Get(ctx, s.Server.URL, map[string]string{"X-Api-Key": key}, opts)
		require.NoError(t, err)
		assert.Equal(t, key, string(body))
	}
	assert.Equal(t, int32(2), s.Requests.Load())

	assert.Equal(t, s.Server.URL, cacheKey(s.Server.URL, nil))
	assert.Equal(t,
		cacheKey("u", map[string]string{"a": "1", "b": "2"}),
		cacheKey("u", map[string]string{"b": "2", "a": "1"}),
	)
	assert.NotEqual(t,
		cacheKey("u", map[string]string{"a": "1"}),
		cacheKey("u", map[string]string{"a": "2"}),
	)
}

func TestFilesystemCache(t *testing.T) {
	s := newCountingServer(t, "v1")
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	opts := GetOptions{Cache: true, CacheTTL: time.Hour}

	fs, err := NewFilesystem(path)
	require.NoError(t, err)
	fs.TimeNow = func() time.Time { return now }

	body, err := fs.Get(ctx, s.Server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(body))

	// A fresh instance reads the cache from disk
	s.Body.Store("v2")
	fs, err = NewFilesystem(path)
	require.NoError(t, err)
	fs.TimeNow = func() time.Time { return now.Add(time.Minute) }

	body, err = fs.Get(ctx, s.Server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(body))
	assert.Equal(t, int32(1), s.Requests.Load())

	fs.TimeNow = func() time.Time { return now.Add(2 * time.Hour) }
	body, err = fs.Get(ctx, s.Server.URL, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(body))
	assert.Equal(t, int32(2), s.Requests.Load())
}
