package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logLevel: debug
static:
  url: https://example.com/gtfs.zip
  headers:
    X-Api-Key: secret
storage:
  driver: sqlite
realtime:
  tripUpdatesURL: https://example.com/tu.pb
  vehiclePositionsURL: https://example.com/vp.pb
  agencyID: mta
  intervalMS: 15000
  timeoutMS: 5000
timetable:
  maxSnapshotFrequencyMS: 2000
  purgeExpiredData: false
vehicles:
  tileZoom: 12
  replace: true
metrics:
  addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "https://example.com/gtfs.zip", cfg.Static.URL)
	assert.Equal(t, map[string]string{"X-Api-Key": "secret"}, cfg.Static.Headers)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "mta", cfg.Realtime.AgencyID)
	assert.Equal(t, 15*time.Second, cfg.Realtime.Interval())
	assert.Equal(t, 5*time.Second, cfg.Realtime.Timeout())
	assert.Equal(t, 2*time.Second, cfg.Timetable.MaxSnapshotFrequency())
	require.NotNil(t, cfg.Timetable.PurgeExpiredData)
	assert.False(t, *cfg.Timetable.PurgeExpiredData)
	assert.Equal(t, 12, cfg.Vehicles.TileZoom)
	assert.True(t, cfg.Vehicles.Replace)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "static:\n  path: feed.zip\n"))
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, "memory", cfg.Storage.Driver)
	require.NotNil(t, cfg.Timetable.PurgeExpiredData)
	assert.True(t, *cfg.Timetable.PurgeExpiredData)
	assert.Equal(t, time.Duration(0), cfg.Realtime.Interval())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvStaticURL, "https://example.com/other.zip")
	t.Setenv(EnvTripUpdatesURL, "https://example.com/tu2.pb")
	t.Setenv(EnvPollIntervalMS, "500")
	t.Setenv(EnvStorageDriver, "postgres")
	t.Setenv(EnvStorageDSN, "postgres://localhost/gtfs")

	cfg, err := Load(writeConfig(t, `
static:
  url: https://example.com/gtfs.zip
realtime:
  tripUpdatesURL: https://example.com/tu.pb
  intervalMS: 15000
`))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/other.zip", cfg.Static.URL)
	assert.Equal(t, "https://example.com/tu2.pb", cfg.Realtime.TripUpdatesURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Realtime.Interval())
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/gtfs", cfg.Storage.DSN)

	// Env alone is enough
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/other.zip", cfg.Static.URL)

	t.Setenv(EnvPollIntervalMS, "soon")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
	}{
		{"no static feed", "realtime:\n  agencyID: x\n"},
		{"bad static url", "static:\n  url: not a url\n"},
		{"bad driver", "static:\n  path: f.zip\nstorage:\n  driver: mongo\n"},
		{"postgres without dsn", "static:\n  path: f.zip\nstorage:\n  driver: postgres\n"},
		{"negative interval", "static:\n  path: f.zip\nrealtime:\n  intervalMS: -1\n"},
		{"zoom too deep", "static:\n  path: f.zip\nvehicles:\n  tileZoom: 30\n"},
		{"bad log level", "logLevel: loud\nstatic:\n  path: f.zip\n"},
		{"bad yaml", "static: [\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
