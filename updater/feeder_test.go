package updater

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transitrt/model"
	"tidbyt.dev/transitrt/vehicle"
)

func TestVehicleFeederValidation(t *testing.T) {
	f := newFixture(t)
	index := vehicle.NewIndex(f.controller, 0)
	feeder := NewVehicleFeeder(f.net, f.controller, index)
	metrics := newRecorder()
	feeder.Metrics = metrics

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	accepted := feeder.Feed([]model.VehicleLocation{
		{VehicleID: "ok", Timestamp: ts, Lat: 40.0, Lon: -73.0, TripID: "t1", StopID: "b"},
		{VehicleID: "bare", Timestamp: ts, Lat: 40.1, Lon: -73.1},
		{VehicleID: "", Timestamp: ts, Lat: 40.0, Lon: -73.0},
		{VehicleID: "bad_route", Timestamp: ts, RouteID: "r9"},
		{VehicleID: "bad_trip", Timestamp: ts, TripID: "t9"},
		{VehicleID: "bad_stop", Timestamp: ts, StopID: "z"},
		{VehicleID: "off_trip", Timestamp: ts, TripID: "t1", StopID: "d"},
	})
	assert.Equal(t, 2, accepted)
	assert.Equal(t, []int{2, 5, 2}, metrics.vehicles)

	loc, ok := index.ForVehicle("ok")
	require.True(t, ok)
	assert.Equal(t, "r1", loc.RouteID)

	_, ok = index.ForVehicle("off_trip")
	assert.False(t, ok)

	// Stale locations are not counted
	accepted = feeder.Feed([]model.VehicleLocation{
		{VehicleID: "ok", Timestamp: ts, Lat: 41.0, Lon: -73.0},
		{VehicleID: "bare", Timestamp: ts.Add(time.Second), Lat: 40.2, Lon: -73.1},
	})
	assert.Equal(t, 1, accepted)
	loc, _ = index.ForVehicle("ok")
	assert.Equal(t, 40.0, loc.Lat)
}

func TestVehicleFeederAddedTrip(t *testing.T) {
	f := newFixture(t)

	added := f.batch(model.TripAdded, "T1", timeAt("a", 0, 0, 100), timeAt("d", 1, 300, 0))
	added.RouteID = "r2"
	require.NoError(t, f.controller.Apply(added))

	index := vehicle.NewIndex(f.controller, 0)
	feeder := NewVehicleFeeder(f.net, f.controller, index)

	// Unknown until published
	loc := model.VehicleLocation{VehicleID: "v0", Timestamp: f.now, TripID: "T1", ServiceDate: today}
	assert.Equal(t, 0, feeder.Feed([]model.VehicleLocation{loc}))
	f.controller.Commit(true)

	accepted := feeder.Feed([]model.VehicleLocation{
		{VehicleID: "v1", Timestamp: f.now, TripID: "T1", StopID: "d", ServiceDate: today},
		// T1 doesn't serve b
		{VehicleID: "v2", Timestamp: f.now, TripID: "T1", StopID: "b", ServiceDate: today},
	})
	assert.Equal(t, 1, accepted)

	loc, ok := index.ForTrip("T1")
	require.True(t, ok)
	assert.Equal(t, "v1", loc.VehicleID)
	assert.Equal(t, "r2", loc.RouteID)
}

func TestVehicleFeederReplace(t *testing.T) {
	f := newFixture(t)
	index := vehicle.NewIndex(f.controller, 0)
	feeder := NewVehicleFeeder(f.net, f.controller, index)
	feeder.Replace = true

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 2, feeder.Feed([]model.VehicleLocation{
		{VehicleID: "v1", Timestamp: ts, Lat: 40.0, Lon: -73.0},
		{VehicleID: "v2", Timestamp: ts, Lat: 40.1, Lon: -73.0},
	}))
	assert.Equal(t, 2, index.Len())

	assert.Equal(t, 1, feeder.Feed([]model.VehicleLocation{
		{VehicleID: "v2", Timestamp: ts.Add(time.Minute), Lat: 40.2, Lon: -73.0},
		{VehicleID: "v3", Timestamp: ts, RouteID: "r9"},
	}))
	assert.Equal(t, 1, index.Len())

	loc, ok := index.ForVehicle("v2")
	require.True(t, ok)
	assert.Equal(t, 40.2, loc.Lat)
	require.NotNil(t, loc.Bearing)
	assert.InDelta(t, 0.0, *loc.Bearing, 0.01)
}
