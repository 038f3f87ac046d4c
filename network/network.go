package network

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"tidbyt.dev/transitrt/model"
	"tidbyt.dev/transitrt/storage"
	"tidbyt.dev/transitrt/timetable"
)

var (
	ErrUnknownRoute = errors.New("unknown route")
	ErrUnknownStop  = errors.New("unknown stop")
	ErrTooFewStops  = errors.New("pattern needs at least two stops")
)

// Boarding or alighting a pattern at one of its stops. Boarding is
// possible at every stop but the last, alighting at every stop but
// the first.
type Edge struct {
	PatternID string
	StopIndex int
	StopID    string
	Board     bool
}

func (e *Edge) String() string {
	kind := "alight"
	if e.Board {
		kind = "board"
	}
	return fmt.Sprintf("%s %s[%d]@%s", kind, e.PatternID, e.StopIndex, e.StopID)
}

type edgeKey struct {
	patternID string
	stopIndex int
}

// Index is the static transit network: stops, routes, trips, the
// patterns trips run along and their scheduled timetables.
//
// Trips added by realtime feeds extend the index with new patterns.
// Nothing is ever removed. Which pattern a trip runs on for a given
// date is realtime state, kept with the timetables.
type Index struct {
	mu sync.RWMutex

	stops  map[string]*model.Stop
	routes map[string]*model.Route
	trips  map[string]*model.Trip

	patterns        map[string]*model.TripPattern
	patternsByRoute map[string][]*model.TripPattern
	tripPattern     map[string]*model.TripPattern
	scheduled       map[string]*timetable.Timetable

	boardEdges  map[edgeKey]*Edge
	alightEdges map[edgeKey]*Edge
}

func newIndex() *Index {
	return &Index{
		stops:           map[string]*model.Stop{},
		routes:          map[string]*model.Route{},
		trips:           map[string]*model.Trip{},
		patterns:        map[string]*model.TripPattern{},
		patternsByRoute: map[string][]*model.TripPattern{},
		tripPattern:     map[string]*model.TripPattern{},
		scheduled:       map[string]*timetable.Timetable{},
		boardEdges:      map[edgeKey]*Edge{},
		alightEdges:     map[edgeKey]*Edge{},
	}
}

// Builds the network from a static feed in storage.
func FromFeed(reader storage.FeedReader) (*Index, error) {
	stops, err := reader.Stops()
	if err != nil {
		return nil, fmt.Errorf("reading stops: %w", err)
	}
	routes, err := reader.Routes()
	if err != nil {
		return nil, fmt.Errorf("reading routes: %w", err)
	}
	trips, err := reader.Trips()
	if err != nil {
		return nil, fmt.Errorf("reading trips: %w", err)
	}
	stopTimes, err := reader.StopTimes()
	if err != nil {
		return nil, fmt.Errorf("reading stop times: %w", err)
	}

	return New(stops, routes, trips, stopTimes)
}

// Builds the network from static records. Trips sharing route and
// stop sequence are grouped into one pattern. Trips with fewer than
// two stop times are ignored.
func New(
	stops []*model.Stop,
	routes []*model.Route,
	trips []*model.Trip,
	stopTimes []*model.StopTime,
) (*Index, error) {
	idx := newIndex()

	for _, s := range stops {
		idx.stops[s.ID] = s
	}
	for _, r := range routes {
		idx.routes[r.ID] = r
	}
	for _, t := range trips {
		if _, ok := idx.routes[t.RouteID]; !ok {
			return nil, fmt.Errorf("trip %s: %w %s", t.ID, ErrUnknownRoute, t.RouteID)
		}
		idx.trips[t.ID] = t
	}

	byTrip := map[string][]*model.StopTime{}
	for _, st := range stopTimes {
		if _, ok := idx.trips[st.TripID]; !ok {
			return nil, fmt.Errorf("stop time for unknown trip %s", st.TripID)
		}
		if _, ok := idx.stops[st.StopID]; !ok {
			return nil, fmt.Errorf("trip %s: %w %s", st.TripID, ErrUnknownStop, st.StopID)
		}
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}

	// Sorted for stable pattern IDs
	tripIDs := make([]string, 0, len(byTrip))
	for id := range byTrip {
		tripIDs = append(tripIDs, id)
	}
	sort.Strings(tripIDs)

	tripTimes := map[string][]*timetable.TripTimes{}
	for _, tripID := range tripIDs {
		sts := byTrip[tripID]
		if len(sts) < 2 {
			continue
		}
		sort.Slice(sts, func(i, j int) bool {
			return sts[i].StopSequence < sts[j].StopSequence
		})

		stopIDs := make([]string, len(sts))
		for i, st := range sts {
			stopIDs[i] = st.StopID
		}

		pattern, _ := idx.findOrAddPattern(idx.trips[tripID].RouteID, stopIDs)
		idx.tripPattern[tripID] = pattern
		tripTimes[pattern.ID] = append(tripTimes[pattern.ID], timetable.NewScheduledTripTimes(tripID, sts))
	}

	for patternID, tts := range tripTimes {
		sort.SliceStable(tts, func(i, j int) bool {
			return tts[i].ScheduledDepartures[0] < tts[j].ScheduledDepartures[0]
		})
		idx.scheduled[patternID] = timetable.NewTimetable(idx.patterns[patternID], "", tts)
	}

	return idx, nil
}

// Must be called with the write lock held (or during construction).
func (idx *Index) findOrAddPattern(routeID string, stops []string) (*model.TripPattern, bool) {
	for _, p := range idx.patternsByRoute[routeID] {
		if p.SameStops(stops) {
			return p, false
		}
	}

	pattern := &model.TripPattern{
		ID:      fmt.Sprintf("%s:%d", routeID, len(idx.patternsByRoute[routeID])),
		RouteID: routeID,
		Mode:    idx.routes[routeID].Type,
		Stops:   append([]string(nil), stops...),
	}
	idx.patterns[pattern.ID] = pattern
	idx.patternsByRoute[routeID] = append(idx.patternsByRoute[routeID], pattern)

	for i, stopID := range stops {
		key := edgeKey{pattern.ID, i}
		if i+1 < len(stops) {
			idx.boardEdges[key] = &Edge{PatternID: pattern.ID, StopIndex: i, StopID: stopID, Board: true}
		}
		if i > 0 {
			idx.alightEdges[key] = &Edge{PatternID: pattern.ID, StopIndex: i, StopID: stopID}
		}
	}

	return pattern, true
}

// Returns the route's pattern visiting exactly the given stops,
// creating it (and its board/alight edges) if necessary. Reports
// whether the pattern was created.
func (idx *Index) FindOrAddPattern(routeID string, stops []string) (*model.TripPattern, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.routes[routeID]; !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownRoute, routeID)
	}
	if len(stops) < 2 {
		return nil, false, ErrTooFewStops
	}
	for _, stopID := range stops {
		if _, ok := idx.stops[stopID]; !ok {
			return nil, false, fmt.Errorf("%w: %s", ErrUnknownStop, stopID)
		}
	}

	pattern, created := idx.findOrAddPattern(routeID, stops)
	return pattern, created, nil
}

// The scheduled pattern of a trip, or nil if the trip is unknown.
func (idx *Index) PatternForTrip(tripID string) *model.TripPattern {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tripPattern[tripID]
}

// Route of a scheduled trip.
func (idx *Index) RouteForTrip(tripID string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if t, ok := idx.trips[tripID]; ok {
		return t.RouteID, true
	}
	return "", false
}

func (idx *Index) Pattern(id string) *model.TripPattern {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.patterns[id]
}

// All patterns, ordered by ID.
func (idx *Index) Patterns() []*model.TripPattern {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	patterns := make([]*model.TripPattern, 0, len(idx.patterns))
	for _, p := range idx.patterns {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].ID < patterns[j].ID
	})
	return patterns
}

func (idx *Index) PatternsForRoute(routeID string) []*model.TripPattern {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]*model.TripPattern(nil), idx.patternsByRoute[routeID]...)
}

// Scheduled timetable of a pattern. Nil for unknown patterns. Patterns
// created for added trips have an empty scheduled timetable.
func (idx *Index) ScheduledTimetable(patternID string) *timetable.Timetable {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if tt, ok := idx.scheduled[patternID]; ok {
		return tt
	}
	if p, ok := idx.patterns[patternID]; ok {
		return timetable.NewTimetable(p, "", nil)
	}
	return nil
}

func (idx *Index) BoardEdge(patternID string, stopIndex int) (*Edge, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.boardEdges[edgeKey{patternID, stopIndex}]
	return e, ok
}

func (idx *Index) AlightEdge(patternID string, stopIndex int) (*Edge, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.alightEdges[edgeKey{patternID, stopIndex}]
	return e, ok
}

func (idx *Index) Route(id string) (*model.Route, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.routes[id]
	return r, ok
}

func (idx *Index) HasRoute(id string) bool {
	_, ok := idx.Route(id)
	return ok
}

func (idx *Index) Stop(id string) (*model.Stop, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s, ok := idx.stops[id]
	return s, ok
}

func (idx *Index) HasStop(id string) bool {
	_, ok := idx.Stop(id)
	return ok
}

// All stops, ordered by ID.
func (idx *Index) Stops() []*model.Stop {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stops := make([]*model.Stop, 0, len(idx.stops))
	for _, s := range idx.stops {
		stops = append(stops, s)
	}
	sort.Slice(stops, func(i, j int) bool {
		return stops[i].ID < stops[j].ID
	})
	return stops
}

func (idx *Index) Trip(id string) (*model.Trip, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t, ok := idx.trips[id]
	return t, ok
}

func (idx *Index) String() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return fmt.Sprintf(
		"network (%d stops, %d routes, %d trips, %d patterns)",
		len(idx.stops), len(idx.routes), len(idx.trips), len(idx.patterns),
	)
}
