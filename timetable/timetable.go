package timetable

import (
	"errors"
	"fmt"
	"time"

	"tidbyt.dev/transitrt/model"
)

var (
	ErrNoMatchingStop  = errors.New("update doesn't match any stop of the pattern")
	ErrNotContiguous   = errors.New("updates don't cover a contiguous run of stops")
	ErrNegativeHop     = errors.New("updated times are not increasing")
	ErrMissingTime     = errors.New("stop lacks an absolute time")
	ErrPatternMismatch = errors.New("update list doesn't match pattern")
)

// Arrival and departure times for one trip along its pattern. Times
// are seconds after midnight of the service day. Values are never
// modified after construction: updates produce new TripTimes sharing
// the scheduled arrays.
type TripTimes struct {
	TripID        string
	StopSequences []uint32

	ScheduledArrivals   []int32
	ScheduledDepartures []int32

	Arrivals   []int32
	Departures []int32

	Canceled bool

	// Zero for scheduled data.
	Timestamp time.Time
}

// Builds scheduled TripTimes from static stop times, which must be
// ordered by stop_sequence.
func NewScheduledTripTimes(tripID string, stopTimes []*model.StopTime) *TripTimes {
	tt := &TripTimes{
		TripID:              tripID,
		StopSequences:       make([]uint32, len(stopTimes)),
		ScheduledArrivals:   make([]int32, len(stopTimes)),
		ScheduledDepartures: make([]int32, len(stopTimes)),
	}
	for i, st := range stopTimes {
		tt.StopSequences[i] = st.StopSequence
		tt.ScheduledArrivals[i] = st.Arrival
		tt.ScheduledDepartures[i] = st.Departure
	}
	tt.Arrivals = tt.ScheduledArrivals
	tt.Departures = tt.ScheduledDepartures
	return tt
}

func (tt *TripTimes) NumStops() int {
	return len(tt.ScheduledDepartures)
}

func (tt *TripTimes) IsRealtime() bool {
	return !tt.Timestamp.IsZero()
}

func (tt *TripTimes) ArrivalDelay(i int) int32 {
	return tt.Arrivals[i] - tt.ScheduledArrivals[i]
}

func (tt *TripTimes) DepartureDelay(i int) int32 {
	return tt.Departures[i] - tt.ScheduledDepartures[i]
}

func (tt *TripTimes) WithCanceled(timestamp time.Time) *TripTimes {
	c := *tt
	c.Canceled = true
	c.Timestamp = timestamp
	return &c
}

// Builds a trip's times purely from absolute update times. Used for
// trips not present in the static schedule.
func AddedTripTimes(tripID string, updates []model.Update) (*TripTimes, error) {
	n := len(updates)
	tt := &TripTimes{
		TripID:              tripID,
		StopSequences:       make([]uint32, n),
		ScheduledArrivals:   make([]int32, n),
		ScheduledDepartures: make([]int32, n),
	}

	for i, u := range updates {
		seq := uint32(i)
		if u.HasStopSequence {
			seq = u.StopSequence
		}
		tt.StopSequences[i] = seq

		arr, dep := u.Arrival, u.Departure
		if (arr == nil || !arr.Absolute) && (dep == nil || !dep.Absolute) {
			return nil, fmt.Errorf("stop %d (%s): %w", i, u.StopID, ErrMissingTime)
		}
		if arr == nil || !arr.Absolute {
			arr = dep
		}
		if dep == nil || !dep.Absolute {
			dep = arr
		}
		tt.ScheduledArrivals[i] = arr.Time
		tt.ScheduledDepartures[i] = dep.Time
	}

	tt.Arrivals = tt.ScheduledArrivals
	tt.Departures = tt.ScheduledDepartures

	if err := tt.checkIncreasing(); err != nil {
		return nil, err
	}

	return tt, nil
}

// Applies stop-level updates to the trip, returning new TripTimes.
//
// The updates must cover a contiguous run of the pattern's stops.
// Stops before the first update keep their scheduled times. The
// delay of the last updated stop is propagated to all subsequent
// stops.
func (tt *TripTimes) Apply(pattern *model.TripPattern, updates []model.Update, timestamp time.Time) (*TripTimes, error) {
	n := tt.NumStops()
	if len(pattern.Stops) != n {
		return nil, ErrPatternMismatch
	}
	if len(updates) == 0 {
		return nil, ErrNoMatchingStop
	}

	start := tt.matchStop(pattern, updates[0], 0)
	if start < 0 {
		return nil, fmt.Errorf("stop %s: %w", updates[0].StopID, ErrNoMatchingStop)
	}
	if start+len(updates) > n {
		return nil, ErrNotContiguous
	}
	for i, u := range updates[1:] {
		if !tt.stopMatches(pattern, u, start+i+1) {
			return nil, fmt.Errorf("stop %s: %w", u.StopID, ErrNotContiguous)
		}
	}

	arrivals := make([]int32, n)
	departures := make([]int32, n)
	copy(arrivals[:start], tt.ScheduledArrivals[:start])
	copy(departures[:start], tt.ScheduledDepartures[:start])

	var delay int32
	for i := start; i < n; i++ {
		schedArr := tt.ScheduledArrivals[i]
		schedDep := tt.ScheduledDepartures[i]

		if i-start >= len(updates) {
			// Past the last update: propagate
			arrivals[i] = schedArr + delay
			departures[i] = schedDep + delay
			continue
		}

		u := updates[i-start]

		var arrDelay, depDelay int32
		if u.Arrival != nil {
			arrDelay = eventDelay(u.Arrival, schedArr)
		}
		if u.Departure != nil {
			depDelay = eventDelay(u.Departure, schedDep)
		} else {
			// Lacking departure data, assume the arrival
			// delay applies. An early arrival is
			// interpreted as a return to regular schedule.
			depDelay = max(arrDelay, 0)
		}
		if u.Arrival == nil {
			arrDelay = depDelay
		}

		arrivals[i] = schedArr + arrDelay
		departures[i] = schedDep + depDelay
		delay = depDelay
	}

	updated := &TripTimes{
		TripID:              tt.TripID,
		StopSequences:       tt.StopSequences,
		ScheduledArrivals:   tt.ScheduledArrivals,
		ScheduledDepartures: tt.ScheduledDepartures,
		Arrivals:            arrivals,
		Departures:          departures,
		Timestamp:           timestamp,
	}

	if err := updated.checkIncreasing(); err != nil {
		return nil, err
	}

	return updated, nil
}

func eventDelay(ev *model.StopEvent, scheduled int32) int32 {
	if ev.Absolute {
		return ev.Time - scheduled
	}
	return ev.Delay
}

// Index of the first stop at or after from matching the update.
func (tt *TripTimes) matchStop(pattern *model.TripPattern, u model.Update, from int) int {
	for i := from; i < tt.NumStops(); i++ {
		if tt.stopMatches(pattern, u, i) {
			return i
		}
	}
	return -1
}

func (tt *TripTimes) stopMatches(pattern *model.TripPattern, u model.Update, i int) bool {
	if i >= tt.NumStops() {
		return false
	}
	if u.HasStopSequence && tt.StopSequences[i] != u.StopSequence {
		return false
	}
	if u.StopID != "" && pattern.Stops[i] != u.StopID {
		return false
	}
	return true
}

func (tt *TripTimes) checkIncreasing() error {
	for i := 0; i < tt.NumStops(); i++ {
		if tt.Departures[i] < tt.Arrivals[i] {
			return fmt.Errorf("departure before arrival at stop %d: %w", i, ErrNegativeHop)
		}
		if i > 0 && tt.Arrivals[i] < tt.Departures[i-1] {
			return fmt.Errorf("arrival at stop %d before departure from previous: %w", i, ErrNegativeHop)
		}
	}
	return nil
}

// All trips of one pattern on one service date. Immutable: the With*
// methods return new Timetables sharing untouched TripTimes.
type Timetable struct {
	Pattern *model.TripPattern
	// Empty for the pattern's scheduled timetable.
	ServiceDate model.ServiceDate
	Trips       []*TripTimes
}

func NewTimetable(pattern *model.TripPattern, date model.ServiceDate, trips []*TripTimes) *Timetable {
	return &Timetable{
		Pattern:     pattern,
		ServiceDate: date,
		Trips:       trips,
	}
}

func (t *Timetable) TripIndex(tripID string) int {
	for i, trip := range t.Trips {
		if trip.TripID == tripID {
			return i
		}
	}
	return -1
}

func (t *Timetable) Trip(tripID string) *TripTimes {
	if i := t.TripIndex(tripID); i >= 0 {
		return t.Trips[i]
	}
	return nil
}

func (t *Timetable) Canceled(tripID string) bool {
	trip := t.Trip(tripID)
	return trip != nil && trip.Canceled
}

// Returns a copy of the timetable for the given date, with trip
// inserted (or replacing an existing trip with the same ID).
func (t *Timetable) WithTrip(date model.ServiceDate, trip *TripTimes) *Timetable {
	trips := make([]*TripTimes, len(t.Trips), len(t.Trips)+1)
	copy(trips, t.Trips)

	if i := t.TripIndex(trip.TripID); i >= 0 {
		trips[i] = trip
	} else {
		trips = append(trips, trip)
	}

	return NewTimetable(t.Pattern, date, trips)
}

func (t *Timetable) String() string {
	date := string(t.ServiceDate)
	if date == "" {
		date = "scheduled"
	}
	return fmt.Sprintf("timetable %s/%s (%d trips)", t.Pattern.ID, date, len(t.Trips))
}
