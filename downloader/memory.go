package downloader

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Caches responses in memory, keyed on URL and request headers. The
// lock isn't held while downloading, so concurrent misses on the same
// key may both fetch.
type MemoryDownloader struct {
	Logger  *slog.Logger
	TimeNow func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	body    []byte
	expires time.Time
}

func NewMemoryDownloader() *MemoryDownloader {
	return &MemoryDownloader{
		Logger:  slog.Default().With("component", "downloader"),
		TimeNow: time.Now,
		entries: map[string]memoryEntry{},
	}
}

func (d *MemoryDownloader) lookup(key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[key]
	if !ok {
		return nil, false
	}
	if !d.TimeNow().Before(entry.expires) {
		delete(d.entries, key)
		return nil, false
	}
	return entry.body, true
}

func (d *MemoryDownloader) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	if !options.Cache {
		return HTTPGet(ctx, url, headers, options)
	}

	key := cacheKey(url, headers)
	if body, ok := d.lookup(key); ok {
		d.Logger.Debug("cache hit", "url", url)
		return body, nil
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.entries[key] = memoryEntry{
		body:    body,
		expires: d.TimeNow().Add(options.CacheTTL),
	}
	d.mu.Unlock()

	return body, nil
}
