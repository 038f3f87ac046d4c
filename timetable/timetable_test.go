package timetable_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transitrt/model"
	"tidbyt.dev/transitrt/timetable"
)

// Pattern s1-s2-s3-s4, trip t1 scheduled at 10:00, 10:10, 10:20,
// 10:30 with 1 minute dwell at each intermediate stop.
func fixture() (*model.TripPattern, *timetable.TripTimes) {
	pattern := &model.TripPattern{
		ID:      "p1",
		RouteID: "r1",
		Stops:   []string{"s1", "s2", "s3", "s4"},
	}
	trip := timetable.NewScheduledTripTimes("t1", []*model.StopTime{
		{TripID: "t1", StopID: "s1", StopSequence: 1, Arrival: 36000, Departure: 36000},
		{TripID: "t1", StopID: "s2", StopSequence: 2, Arrival: 36600, Departure: 36660},
		{TripID: "t1", StopID: "s3", StopSequence: 3, Arrival: 37200, Departure: 37260},
		{TripID: "t1", StopID: "s4", StopSequence: 4, Arrival: 37800, Departure: 37800},
	})
	return pattern, trip
}

func TestTripTimesDelayPropagation(t *testing.T) {
	pattern, trip := fixture()
	ts := time.Unix(1700000000, 0)

	updated, err := trip.Apply(pattern, []model.Update{
		{StopID: "s2", Arrival: model.DelayEvent(120), Departure: model.DelayEvent(90)},
	}, ts)
	require.NoError(t, err)

	// First stop untouched, s2 gets its delays, and the
	// departure delay carries on to s3 and s4.
	assert.Equal(t, []int32{36000, 36720, 37290, 37890}, updated.Arrivals)
	assert.Equal(t, []int32{36000, 36750, 37350, 37890}, updated.Departures)
	assert.Equal(t, ts, updated.Timestamp)
	assert.True(t, updated.IsRealtime())

	// The receiver is unchanged and schedule is shared
	assert.Equal(t, []int32{36000, 36600, 37200, 37800}, trip.Arrivals)
	assert.False(t, trip.IsRealtime())
	assert.Equal(t, int32(120), updated.ArrivalDelay(1))
	assert.Equal(t, int32(90), updated.DepartureDelay(2))
}

func TestTripTimesMissingArrivalOrDeparture(t *testing.T) {
	pattern, trip := fixture()

	// Arrival only, early: departure returns to schedule
	updated, err := trip.Apply(pattern, []model.Update{
		{StopID: "s2", Arrival: model.DelayEvent(-30)},
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int32(36570), updated.Arrivals[1])
	assert.Equal(t, int32(36660), updated.Departures[1])
	assert.Equal(t, int32(37200), updated.Arrivals[2])

	// Departure only: arrival assumes the same delay
	updated, err = trip.Apply(pattern, []model.Update{
		{StopID: "s2", Departure: model.DelayEvent(60)},
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int32(36660), updated.Arrivals[1])
	assert.Equal(t, int32(36720), updated.Departures[1])
}

func TestTripTimesAbsoluteTimes(t *testing.T) {
	pattern, trip := fixture()

	updated, err := trip.Apply(pattern, []model.Update{
		{StopSequence: 3, HasStopSequence: true, Arrival: model.TimeEvent(37500), Departure: model.TimeEvent(37560)},
		{StopSequence: 4, HasStopSequence: true, Arrival: model.TimeEvent(38000)},
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []int32{36000, 36600, 37500, 38000}, updated.Arrivals)
	assert.Equal(t, []int32{36000, 36660, 37560, 38000}, updated.Departures)
}

func TestTripTimesRejectsBadUpdates(t *testing.T) {
	pattern, trip := fixture()

	for _, tc := range []struct {
		name     string
		updates  []model.Update
		expected error
	}{
		{
			"unknown stop",
			[]model.Update{{StopID: "nope", Arrival: model.DelayEvent(0)}},
			timetable.ErrNoMatchingStop,
		},
		{
			"gap",
			[]model.Update{
				{StopID: "s1", Departure: model.DelayEvent(0)},
				{StopID: "s3", Arrival: model.DelayEvent(0)},
			},
			timetable.ErrNotContiguous,
		},
		{
			"stop sequence mismatch",
			[]model.Update{{StopID: "s2", StopSequence: 7, HasStopSequence: true, Arrival: model.DelayEvent(0)}},
			timetable.ErrNoMatchingStop,
		},
		{
			"time travel",
			[]model.Update{
				{StopID: "s2", Arrival: model.TimeEvent(36600), Departure: model.TimeEvent(36660)},
				{StopID: "s3", Arrival: model.TimeEvent(36000)},
			},
			timetable.ErrNegativeHop,
		},
		{
			"no updates",
			nil,
			timetable.ErrNoMatchingStop,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := trip.Apply(pattern, tc.updates, time.Now())
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestAddedTripTimes(t *testing.T) {
	trip, err := timetable.AddedTripTimes("added", []model.Update{
		{StopID: "a", StopSequence: 0, HasStopSequence: true, Departure: model.TimeEvent(100)},
		{StopID: "b", StopSequence: 1, HasStopSequence: true, Arrival: model.TimeEvent(300)},
	})
	require.NoError(t, err)
	assert.Equal(t, []int32{100, 300}, trip.Arrivals)
	assert.Equal(t, []int32{100, 300}, trip.Departures)
	assert.Equal(t, []uint32{0, 1}, trip.StopSequences)

	_, err = timetable.AddedTripTimes("added", []model.Update{
		{StopID: "a", Departure: model.DelayEvent(100)},
	})
	assert.ErrorIs(t, err, timetable.ErrMissingTime)

	_, err = timetable.AddedTripTimes("added", []model.Update{
		{StopID: "a", Departure: model.TimeEvent(300)},
		{StopID: "b", Arrival: model.TimeEvent(100)},
	})
	assert.ErrorIs(t, err, timetable.ErrNegativeHop)
}

func TestTimetableWithTrip(t *testing.T) {
	pattern, trip := fixture()
	scheduled := timetable.NewTimetable(pattern, "", []*timetable.TripTimes{trip})

	canceled := scheduled.WithTrip("20240101", trip.WithCanceled(time.Now()))
	assert.True(t, canceled.Canceled("t1"))
	assert.False(t, scheduled.Canceled("t1"))
	assert.Equal(t, model.ServiceDate("20240101"), canceled.ServiceDate)
	assert.Len(t, canceled.Trips, 1)

	other, err := timetable.AddedTripTimes("t2", []model.Update{
		{StopID: "s1", Departure: model.TimeEvent(40000)},
		{StopID: "s2", Arrival: model.TimeEvent(40600)},
		{StopID: "s3", Arrival: model.TimeEvent(41200)},
		{StopID: "s4", Arrival: model.TimeEvent(41800)},
	})
	require.NoError(t, err)
	both := canceled.WithTrip("20240101", other)
	assert.Len(t, both.Trips, 2)
	assert.Len(t, canceled.Trips, 1)
	assert.Same(t, canceled.Trips[0], both.Trips[0])
	assert.Equal(t, -1, both.TripIndex("t3"))
	assert.Nil(t, both.Trip("t3"))
}
