package transitrt_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transitrt"
	"tidbyt.dev/transitrt/storage"
	"tidbyt.dev/transitrt/testutil"
)

type MockGTFSServer struct {
	mu       sync.Mutex
	Feeds    map[string][]byte
	Requests []string
	Server   *httptest.Server
}

func (m *MockGTFSServer) handler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, r.URL.Path)
	if feed, found := m.Feeds[r.URL.Path]; found {
		w.Write(feed)
	} else {
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *MockGTFSServer) NumRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

func (m *MockGTFSServer) Serve(path string, feed []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Feeds[path] = feed
}

func managerFixture(t *testing.T) *MockGTFSServer {
	m := &MockGTFSServer{
		Feeds:    map[string][]byte{},
		Requests: []string{},
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handler))
	t.Cleanup(m.Server.Close)
	return m
}

func buildManager(s *storage.MemoryStorage, now *time.Time) *transitrt.Manager {
	m := transitrt.NewManager(s)
	m.Now = func() time.Time { return *now }
	return m
}

func TestManagerLoadStatic(t *testing.T) {
	server := managerFixture(t)
	server.Serve("/static.zip", testutil.BuildFeed(t, engineFeed()))

	s := storage.NewMemoryStorage()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := buildManager(s, &now)

	static, err := m.LoadStatic(context.Background(), server.Server.URL+"/static.zip", nil)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", static.Metadata.Timezone)
	assert.Equal(t, 1, server.NumRequests())

	net, err := static.Network()
	require.NoError(t, err)
	assert.True(t, net.HasStop("a"))

	// Within the refresh interval, nothing is downloaded
	now = now.Add(time.Hour)
	again, err := m.LoadStatic(context.Background(), server.Server.URL+"/static.zip", nil)
	require.NoError(t, err)
	assert.Same(t, static, again)
	assert.Equal(t, 1, server.NumRequests())

	// After it, the feed is downloaded but identical content isn't
	// parsed again
	now = now.Add(transitrt.DefaultStaticRefreshInterval)
	again, err = m.LoadStatic(context.Background(), server.Server.URL+"/static.zip", nil)
	require.NoError(t, err)
	assert.Same(t, static, again)
	assert.Equal(t, 2, server.NumRequests())
	assert.Equal(t, 1, len(s.Feeds))
}

func TestManagerFeedChanged(t *testing.T) {
	server := managerFixture(t)
	server.Serve("/static.zip", testutil.BuildFeed(t, engineFeed()))

	s := storage.NewMemoryStorage()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := buildManager(s, &now)

	first, err := m.LoadStatic(context.Background(), server.Server.URL+"/static.zip", nil)
	require.NoError(t, err)

	files := engineFeed()
	files["stops.txt"] = append(files["stops.txt"], "e,E,40.9,-74.0")
	server.Serve("/static.zip", testutil.BuildFeed(t, files))

	now = now.Add(transitrt.DefaultStaticRefreshInterval + time.Minute)
	second, err := m.LoadStatic(context.Background(), server.Server.URL+"/static.zip", nil)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, len(s.Feeds))

	net, err := second.Network()
	require.NoError(t, err)
	assert.True(t, net.HasStop("e"))
}

func TestManagerNoActiveFeed(t *testing.T) {
	server := managerFixture(t)
	server.Serve("/static.zip", testutil.BuildFeed(t, engineFeed()))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := buildManager(storage.NewMemoryStorage(), &now)

	_, err := m.LoadStatic(context.Background(), server.Server.URL+"/static.zip", nil)
	assert.ErrorIs(t, err, transitrt.ErrNoActiveFeed)
}

func TestManagerDownloadFailure(t *testing.T) {
	server := managerFixture(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := buildManager(storage.NewMemoryStorage(), &now)

	_, err := m.LoadStatic(context.Background(), server.Server.URL+"/missing.zip", nil)
	assert.Error(t, err)

	server.Serve("/broken.zip", []byte("not a zip"))
	_, err = m.LoadStatic(context.Background(), server.Server.URL+"/broken.zip", nil)
	assert.Error(t, err)
}

func TestManagerLoadStaticFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "static.zip")
	require.NoError(t, os.WriteFile(path, testutil.BuildFeed(t, engineFeed()), 0644))

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := buildManager(storage.NewMemoryStorage(), &now)

	static, err := m.LoadStaticFile(path)
	require.NoError(t, err)
	assert.Equal(t, "20240101", static.Metadata.CalendarStartDate)

	_, err = m.LoadStaticFile(filepath.Join(t.TempDir(), "nope.zip"))
	assert.Error(t, err)
}
