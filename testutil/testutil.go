// Package testutil builds static feeds and storage backends for
// tests outside the parse package.
package testutil

import (
	"archive/zip"
	"bytes"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tidbyt.dev/transitrt"
	"tidbyt.dev/transitrt/parse"
	"tidbyt.dev/transitrt/storage"
)

// Holds a postgres connection string when the postgres backend
// should be tested.
const PostgresEnv = "TRANSITRT_TEST_POSTGRES"

// Storage backends available to tests. Postgres is included only when
// PostgresEnv is set.
func Backends() []string {
	backends := []string{"memory", "sqlite"}
	if os.Getenv(PostgresEnv) != "" {
		backends = append(backends, "postgres")
	}
	return backends
}

func BuildStorage(t testing.TB, backend string) storage.Storage {
	switch backend {
	case "memory":
		return storage.NewMemoryStorage()
	case "sqlite":
		s, err := storage.NewSQLiteStorage()
		require.NoError(t, err)
		return s
	case "postgres":
		connStr := os.Getenv(PostgresEnv)
		if connStr == "" {
			t.Skipf("%s not set", PostgresEnv)
		}
		s, err := storage.NewPSQLStorage(connStr, true)
		require.NoError(t, err)
		return s
	}

	t.Fatalf("unknown backend %q", backend)
	return nil
}

// Parses a zipped static feed into a fresh backend.
func LoadStatic(t testing.TB, backend string, buf []byte) *transitrt.Static {
	s := BuildStorage(t, backend)

	writer, err := s.GetWriter("test")
	require.NoError(t, err)

	metadata, err := parse.ParseStatic(writer, buf)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader, err := s.GetReader("test")
	require.NoError(t, err)

	static, err := transitrt.NewStatic(reader, metadata)
	require.NoError(t, err)

	return static
}

func BuildStatic(t testing.TB, backend string, files map[string][]string) *transitrt.Static {
	return LoadStatic(t, backend, BuildFeed(t, files))
}

// Header-only stand-ins for required files left out of a fixture.
var placeholders = map[string]string{
	"agency.txt":     "agency_timezone,agency_name,agency_url\nUTC,Agency,http://example.com",
	"routes.txt":     "route_id,route_short_name,route_type",
	"trips.txt":      "trip_id,route_id,service_id",
	"stops.txt":      "stop_id,stop_name,stop_lat,stop_lon",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence",
}

// Zips files into a static feed. Required files missing from files
// are added without records.
func BuildFeed(t testing.TB, files map[string][]string) []byte {
	contents := map[string]string{}
	for name, lines := range files {
		contents[name] = strings.Join(lines, "\n")
	}
	for name, placeholder := range placeholders {
		if _, ok := contents[name]; !ok {
			contents[name] = placeholder
		}
	}
	if contents["calendar.txt"] == "" && contents["calendar_dates.txt"] == "" {
		contents["calendar_dates.txt"] = "service_id,date,exception_type"
	}

	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for _, name := range names {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(contents[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}
