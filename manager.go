package transitrt

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"tidbyt.dev/transitrt/downloader"
	"tidbyt.dev/transitrt/parse"
	"tidbyt.dev/transitrt/storage"
)

const (
	DefaultStaticRefreshInterval = 12 * time.Hour
	DefaultStaticTimeout         = 60 * time.Second
	DefaultStaticMaxSize         = 800 << 20 // 800 MB
)

var ErrNoActiveFeed = errors.New("no active feed found")

// Manager loads static GTFS schedules into storage. Feeds are stored
// under the hash of their content, so identical downloads are only
// parsed once.
type Manager struct {
	StaticTimeout         time.Duration
	StaticMaxSize         int
	StaticRefreshInterval time.Duration
	Downloader            downloader.Downloader
	Logger                *slog.Logger
	Now                   func() time.Time

	storage storage.Storage

	mu       sync.Mutex
	feeds    map[string]*Static
	requests map[string]*feedRequest
}

// Most recent download of a URL.
type feedRequest struct {
	hash        string
	refreshedAt time.Time
}

// Creates a new Manager of GTFS data, on top of the given storage.
func NewManager(s storage.Storage) *Manager {
	return &Manager{
		StaticTimeout:         DefaultStaticTimeout,
		StaticMaxSize:         DefaultStaticMaxSize,
		StaticRefreshInterval: DefaultStaticRefreshInterval,
		Downloader:            downloader.NewMemoryDownloader(),
		Logger:                slog.Default().With("component", "static"),
		Now:                   time.Now,

		storage:  s,
		feeds:    map[string]*Static{},
		requests: map[string]*feedRequest{},
	}
}

// Loads the static feed at a URL. The URL is downloaded again only
// once StaticRefreshInterval has passed since the last download.
//
// ErrNoActiveFeed is returned if the feed's calendar doesn't cover
// the current date.
func (m *Manager) LoadStatic(ctx context.Context, staticURL string, headers map[string]string) (*Static, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()

	req := m.requests[staticURL]
	if req == nil || req.refreshedAt.Before(now.Add(-m.StaticRefreshInterval)) {
		body, err := m.Downloader.Get(ctx, staticURL, headers, downloader.GetOptions{
			Cache:   false,
			Timeout: m.StaticTimeout,
			MaxSize: m.StaticMaxSize,
		})
		if err != nil {
			return nil, fmt.Errorf("downloading feed at %s: %w", staticURL, err)
		}

		static, hash, err := m.load(body)
		if err != nil {
			return nil, fmt.Errorf("loading feed at %s: %w", staticURL, err)
		}
		if req != nil && req.hash != hash {
			m.Logger.Info("static feed changed", "url", staticURL, "hash", hash)
		}

		m.requests[staticURL] = &feedRequest{hash: hash, refreshedAt: now}

		return m.active(static, now)
	}

	return m.active(m.feeds[req.hash], now)
}

// Loads a static feed from a zip archive on disk.
func (m *Manager) LoadStaticFile(path string) (*Static, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	static, _, err := m.load(buf)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	return m.active(static, m.Now())
}

// Parses a zip archive into storage unless its hash is already
// known. Must be called with the lock held.
func (m *Manager) load(body []byte) (*Static, string, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256(body))

	if static, ok := m.feeds[hash]; ok {
		return static, hash, nil
	}

	writer, err := m.storage.GetWriter(hash)
	if err != nil {
		return nil, "", fmt.Errorf("getting writer: %w", err)
	}

	metadata, err := parse.ParseStatic(writer, body)
	if err != nil {
		writer.Close()
		return nil, "", fmt.Errorf("parsing: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing writer: %w", err)
	}

	reader, err := m.storage.GetReader(hash)
	if err != nil {
		return nil, "", fmt.Errorf("getting reader: %w", err)
	}

	static, err := NewStatic(reader, metadata)
	if err != nil {
		return nil, "", fmt.Errorf("creating static: %w", err)
	}

	m.feeds[hash] = static
	m.Logger.Info(
		"loaded static feed",
		"hash", hash,
		"timezone", metadata.Timezone,
		"start", metadata.CalendarStartDate,
		"end", metadata.CalendarEndDate,
		"routes", metadata.NumRoutes,
		"stops", metadata.NumStops,
		"trips", metadata.NumTrips,
		"stop_times", metadata.NumStopTimes,
	)

	return static, hash, nil
}

func (m *Manager) active(static *Static, now time.Time) (*Static, error) {
	if !static.Active(now) {
		return nil, ErrNoActiveFeed
	}
	return static, nil
}
