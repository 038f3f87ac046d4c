package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transitrt/model"
	"tidbyt.dev/transitrt/storage"
)

func buildIndex(t *testing.T) *Index {
	stops := []*model.Stop{
		{ID: "a", Lat: 40.0, Lon: -73.0},
		{ID: "b", Lat: 40.01, Lon: -73.0},
		{ID: "c", Lat: 40.02, Lon: -73.0},
		{ID: "d", Lat: 40.03, Lon: -73.0},
	}
	routes := []*model.Route{
		{ID: "r1", Type: model.RouteTypeBus},
		{ID: "r2", Type: model.RouteTypeSubway},
	}
	trips := []*model.Trip{
		{ID: "t1", RouteID: "r1", ServiceID: "s"},
		{ID: "t2", RouteID: "r1", ServiceID: "s"},
		{ID: "t3", RouteID: "r1", ServiceID: "s"},
		{ID: "t4", RouteID: "r2", ServiceID: "s"},
	}
	stopTimes := []*model.StopTime{
		// t1 and t2 share a pattern, t2 runs earlier
		{TripID: "t1", StopID: "a", StopSequence: 1, Arrival: 36000, Departure: 36000},
		{TripID: "t1", StopID: "b", StopSequence: 2, Arrival: 36600, Departure: 36600},
		{TripID: "t1", StopID: "c", StopSequence: 3, Arrival: 37200, Departure: 37200},
		{TripID: "t2", StopID: "b", StopSequence: 20, Arrival: 30600, Departure: 30600},
		{TripID: "t2", StopID: "a", StopSequence: 10, Arrival: 30000, Departure: 30000},
		{TripID: "t2", StopID: "c", StopSequence: 30, Arrival: 31200, Departure: 31200},
		// t3 skips b
		{TripID: "t3", StopID: "a", StopSequence: 1, Arrival: 40000, Departure: 40000},
		{TripID: "t3", StopID: "c", StopSequence: 2, Arrival: 41000, Departure: 41000},
		// t4 has a single stop and gets no pattern
		{TripID: "t4", StopID: "d", StopSequence: 1, Arrival: 40000, Departure: 40000},
	}

	idx, err := New(stops, routes, trips, stopTimes)
	require.NoError(t, err)
	return idx
}

func TestNetworkPatterns(t *testing.T) {
	idx := buildIndex(t)

	p1 := idx.PatternForTrip("t1")
	require.NotNil(t, p1)
	assert.Equal(t, []string{"a", "b", "c"}, p1.Stops)
	assert.Equal(t, "r1", p1.RouteID)
	assert.Equal(t, model.RouteTypeBus, p1.Mode)
	assert.Same(t, p1, idx.PatternForTrip("t2"))

	p3 := idx.PatternForTrip("t3")
	require.NotNil(t, p3)
	assert.NotEqual(t, p1.ID, p3.ID)
	assert.Equal(t, []string{"a", "c"}, p3.Stops)

	assert.Nil(t, idx.PatternForTrip("t4"))
	assert.Nil(t, idx.PatternForTrip("nope"))

	assert.Equal(t, 2, len(idx.Patterns()))
	assert.Equal(t, 2, len(idx.PatternsForRoute("r1")))
	assert.Equal(t, 0, len(idx.PatternsForRoute("r2")))

	// Scheduled timetable is ordered by first departure
	tt := idx.ScheduledTimetable(p1.ID)
	require.NotNil(t, tt)
	require.Equal(t, 2, len(tt.Trips))
	assert.Equal(t, "t2", tt.Trips[0].TripID)
	assert.Equal(t, []uint32{10, 20, 30}, tt.Trips[0].StopSequences)
	assert.Equal(t, "t1", tt.Trips[1].TripID)
	assert.Equal(t, []int32{36000, 36600, 37200}, tt.Trips[1].Arrivals)

	assert.Nil(t, idx.ScheduledTimetable("nope"))
}

func TestNetworkEdges(t *testing.T) {
	idx := buildIndex(t)
	p := idx.PatternForTrip("t1")

	for i, stopID := range p.Stops {
		board, ok := idx.BoardEdge(p.ID, i)
		if i == len(p.Stops)-1 {
			assert.False(t, ok)
		} else {
			require.True(t, ok)
			assert.True(t, board.Board)
			assert.Equal(t, stopID, board.StopID)
		}

		alight, ok := idx.AlightEdge(p.ID, i)
		if i == 0 {
			assert.False(t, ok)
		} else {
			require.True(t, ok)
			assert.False(t, alight.Board)
			assert.Equal(t, stopID, alight.StopID)
		}
	}
}

func TestNetworkFindOrAddPattern(t *testing.T) {
	idx := buildIndex(t)

	// Existing pattern is reused
	p, created, err := idx.FindOrAddPattern("r1", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, idx.PatternForTrip("t1"), p)

	// New pattern gets edges and an empty scheduled timetable
	p, created, err = idx.FindOrAddPattern("r2", []string{"d", "c", "a"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.RouteTypeSubway, p.Mode)
	_, ok := idx.BoardEdge(p.ID, 0)
	assert.True(t, ok)
	_, ok = idx.AlightEdge(p.ID, 2)
	assert.True(t, ok)
	tt := idx.ScheduledTimetable(p.ID)
	require.NotNil(t, tt)
	assert.Equal(t, 0, len(tt.Trips))

	_, _, err = idx.FindOrAddPattern("r3", []string{"a", "b"})
	assert.ErrorIs(t, err, ErrUnknownRoute)

	_, _, err = idx.FindOrAddPattern("r1", []string{"a", "x"})
	assert.ErrorIs(t, err, ErrUnknownStop)

	_, _, err = idx.FindOrAddPattern("r1", []string{"a"})
	assert.ErrorIs(t, err, ErrTooFewStops)
}

func TestNetworkRouteForTrip(t *testing.T) {
	idx := buildIndex(t)

	routeID, ok := idx.RouteForTrip("t1")
	assert.True(t, ok)
	assert.Equal(t, "r1", routeID)

	// Known even without a pattern
	routeID, ok = idx.RouteForTrip("t4")
	assert.True(t, ok)
	assert.Equal(t, "r2", routeID)

	_, ok = idx.RouteForTrip("nope")
	assert.False(t, ok)
}

func TestNetworkReferentialIntegrity(t *testing.T) {
	_, err := New(
		[]*model.Stop{{ID: "a"}},
		[]*model.Route{{ID: "r"}},
		[]*model.Trip{{ID: "t", RouteID: "r"}},
		[]*model.StopTime{{TripID: "t", StopID: "x"}},
	)
	assert.ErrorIs(t, err, ErrUnknownStop)

	_, err = New(
		[]*model.Stop{{ID: "a"}},
		[]*model.Route{{ID: "r"}},
		[]*model.Trip{{ID: "t", RouteID: "x"}},
		nil,
	)
	assert.ErrorIs(t, err, ErrUnknownRoute)
}

func TestNetworkFromFeed(t *testing.T) {
	s := storage.NewMemoryStorage()
	writer, err := s.GetWriter("feed")
	require.NoError(t, err)
	require.NoError(t, writer.WriteStop(&model.Stop{ID: "a"}))
	require.NoError(t, writer.WriteStop(&model.Stop{ID: "b"}))
	require.NoError(t, writer.WriteRoute(&model.Route{ID: "r", Type: model.RouteTypeRail}))
	require.NoError(t, writer.WriteTrip(&model.Trip{ID: "t", RouteID: "r", ServiceID: "s"}))
	require.NoError(t, writer.BeginStopTimes())
	require.NoError(t, writer.WriteStopTime(&model.StopTime{TripID: "t", StopID: "a", StopSequence: 1, Arrival: 10, Departure: 10}))
	require.NoError(t, writer.WriteStopTime(&model.StopTime{TripID: "t", StopID: "b", StopSequence: 2, Arrival: 20, Departure: 20}))
	require.NoError(t, writer.EndStopTimes())
	require.NoError(t, writer.Close())

	reader, err := s.GetReader("feed")
	require.NoError(t, err)
	idx, err := FromFeed(reader)
	require.NoError(t, err)

	p := idx.PatternForTrip("t")
	require.NotNil(t, p)
	assert.Equal(t, []string{"a", "b"}, p.Stops)
	assert.Equal(t, model.RouteTypeRail, p.Mode)
	assert.True(t, idx.HasStop("a"))
	assert.False(t, idx.HasStop("c"))
	assert.True(t, idx.HasRoute("r"))
}
