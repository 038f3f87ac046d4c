package raptor

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"

	"tidbyt.dev/transitrt/geo"
	"tidbyt.dev/transitrt/model"
	"tidbyt.dev/transitrt/network"
)

const DefaultMaxWalkDistance = 500.0 // meters

// Stop as seen by the path search. Index is the stop's position in
// Data.Stops and in Data.RoutesForStop.
type Stop struct {
	Index int
	ID    string
	Lat   float64
	Lon   float64
}

// A set of patterns with identical stop sequence and mode.
//
// Boards[i] holds the board edges at stop i for each pattern, in
// pattern order. Alights[i] holds the alight edges at stop i+1.
type Route struct {
	Mode     model.RouteType
	Stops    []*Stop
	Patterns []*model.TripPattern
	Boards   [][]*network.Edge
	Alights  [][]*network.Edge
}

func (r *Route) NumStops() int {
	return len(r.Stops)
}

func (r *Route) ContainsPattern(pattern *model.TripPattern) bool {
	for _, p := range r.Patterns {
		if p.ID == pattern.ID {
			return true
		}
	}
	return false
}

func (r *Route) sameStops(pattern *model.TripPattern) bool {
	if len(r.Stops) != len(pattern.Stops) {
		return false
	}
	for i, s := range r.Stops {
		if s.ID != pattern.Stops[i] {
			return false
		}
	}
	return true
}

func (r *Route) String() string {
	return fmt.Sprintf("raptor route (%d stops, %d patterns, mode %d)", len(r.Stops), len(r.Patterns), r.Mode)
}

type NearbyStop struct {
	Stop     *Stop
	Distance float64
}

// Data is one generation of the route index. A Data value is never
// modified once published: Extend builds a new one sharing everything
// it doesn't touch.
type Data struct {
	Stops         []*Stop
	StopsByID     map[string]*Stop
	Routes        []*Route
	RoutesForStop [][]*Route
	NearbyStops   [][]NearbyStop
}

// The route holding patterns with the pattern's stops and mode, if
// any.
func (d *Data) RouteFor(pattern *model.TripPattern) *Route {
	if len(pattern.Stops) == 0 {
		return nil
	}
	first, ok := d.StopsByID[pattern.Stops[0]]
	if !ok {
		return nil
	}
	for _, r := range d.RoutesForStop[first.Index] {
		if r.Mode == pattern.Mode && r.sameStops(pattern) {
			return r
		}
	}
	return nil
}

// Source of board/alight edges.
type EdgeSource interface {
	BoardEdge(patternID string, stopIndex int) (*network.Edge, bool)
	AlightEdge(patternID string, stopIndex int) (*network.Edge, bool)
}

// Builds the initial route index from all patterns of the network.
// Stops within maxWalk meters of each other are recorded as nearby.
func Build(net *network.Index, maxWalk float64) (*Data, error) {
	d := &Data{
		StopsByID: map[string]*Stop{},
	}

	for i, s := range net.Stops() {
		stop := &Stop{Index: i, ID: s.ID, Lat: s.Lat, Lon: s.Lon}
		d.Stops = append(d.Stops, stop)
		d.StopsByID[s.ID] = stop
	}
	d.RoutesForStop = make([][]*Route, len(d.Stops))
	d.NearbyStops = nearbyStops(d.Stops, maxWalk)

	for _, pattern := range net.Patterns() {
		route := d.RouteFor(pattern)
		if route == nil {
			var err error
			route, err = d.newRoute(pattern)
			if err != nil {
				return nil, err
			}
			d.Routes = append(d.Routes, route)
			for _, s := range route.Stops {
				d.RoutesForStop[s.Index] = append(d.RoutesForStop[s.Index], route)
			}
		}

		for i := range route.Stops {
			if i+1 < len(route.Stops) {
				e, ok := net.BoardEdge(pattern.ID, i)
				if !ok {
					return nil, fmt.Errorf("%s: no board edge at stop %d", pattern, i)
				}
				route.Boards[i] = append(route.Boards[i], e)
			}
			if i > 0 {
				e, ok := net.AlightEdge(pattern.ID, i)
				if !ok {
					return nil, fmt.Errorf("%s: no alight edge at stop %d", pattern, i)
				}
				route.Alights[i-1] = append(route.Alights[i-1], e)
			}
		}
		route.Patterns = append(route.Patterns, pattern)
	}

	return d, nil
}

func (d *Data) newRoute(pattern *model.TripPattern) (*Route, error) {
	if len(pattern.Stops) < 2 {
		return nil, fmt.Errorf("%s: too few stops", pattern)
	}

	r := &Route{
		Mode:    pattern.Mode,
		Stops:   make([]*Stop, len(pattern.Stops)),
		Boards:  make([][]*network.Edge, len(pattern.Stops)-1),
		Alights: make([][]*network.Edge, len(pattern.Stops)-1),
	}
	for i, id := range pattern.Stops {
		s, ok := d.StopsByID[id]
		if !ok {
			return nil, fmt.Errorf("%s: stop %s not in route index", pattern, id)
		}
		r.Stops[i] = s
	}
	return r, nil
}

// Stops sorted by latitude are swept, so only candidates within the
// walking distance's latitude span are measured.
func nearbyStops(stops []*Stop, maxWalk float64) [][]NearbyStop {
	nearby := make([][]NearbyStop, len(stops))
	if maxWalk <= 0 {
		return nearby
	}

	sorted := append([]*Stop(nil), stops...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Lat < sorted[j].Lat
	})

	// Meters per degree of latitude
	latSpan := maxWalk / 111_000.0

	for i, a := range sorted {
		for _, b := range sorted[i+1:] {
			if b.Lat-a.Lat > latSpan {
				break
			}
			d := geo.Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
			if d > maxWalk || math.IsNaN(d) {
				continue
			}
			nearby[a.Index] = append(nearby[a.Index], NearbyStop{Stop: b, Distance: d})
			nearby[b.Index] = append(nearby[b.Index], NearbyStop{Stop: a, Distance: d})
		}
	}

	for _, ns := range nearby {
		sort.Slice(ns, func(i, j int) bool {
			return ns[i].Distance < ns[j].Distance
		})
	}

	return nearby
}

// Updater owns the published route index. Extend must only be called
// from a single goroutine at a time, while Current may be called from
// anywhere.
type Updater struct {
	Logger *slog.Logger

	edges   EdgeSource
	current atomic.Pointer[Data]
}

func NewUpdater(data *Data, edges EdgeSource) *Updater {
	u := &Updater{
		Logger: slog.Default().With("component", "raptor"),
		edges:  edges,
	}
	u.current.Store(data)
	return u
}

// The most recently published route index.
func (u *Updater) Current() *Data {
	return u.current.Load()
}

// Adds pattern to the route with identical stops and mode, creating
// the route if necessary. Only the one route (and the per-stop
// membership lists referencing it) is replaced; the new index is
// published once fully built.
//
// Returns true if the pattern is present afterwards. Returns false,
// leaving the index unchanged, if a board or alight edge is missing
// or the pattern visits an unknown stop.
func (u *Updater) Extend(pattern *model.TripPattern) bool {
	data := u.current.Load()

	route := data.RouteFor(pattern)
	if route != nil && route.ContainsPattern(pattern) {
		return true
	}

	next := &Data{
		Stops:         data.Stops,
		StopsByID:     data.StopsByID,
		NearbyStops:   data.NearbyStops,
		Routes:        append([]*Route(nil), data.Routes...),
		RoutesForStop: append([][]*Route(nil), data.RoutesForStop...),
	}

	if route == nil {
		var err error
		route, err = next.newRoute(pattern)
		if err != nil {
			u.Logger.Warn("creating route", "pattern", pattern.ID, "error", err)
			return false
		}
		next.Routes = append(next.Routes, route)
		for _, s := range route.Stops {
			rs := make([]*Route, len(next.RoutesForStop[s.Index]), len(next.RoutesForStop[s.Index])+1)
			copy(rs, next.RoutesForStop[s.Index])
			next.RoutesForStop[s.Index] = append(rs, route)
		}
		u.Logger.Info("created route", "pattern", pattern.ID, "stops", len(pattern.Stops))
	}

	extended := &Route{
		Mode:     route.Mode,
		Stops:    route.Stops,
		Patterns: append(append([]*model.TripPattern(nil), route.Patterns...), pattern),
		Boards:   make([][]*network.Edge, len(route.Boards)),
		Alights:  make([][]*network.Edge, len(route.Alights)),
	}

	for i := range route.Stops {
		if i+1 < len(route.Stops) {
			e, ok := u.edges.BoardEdge(pattern.ID, i)
			if !ok {
				u.Logger.Warn("missing board edge", "pattern", pattern.ID, "stop", route.Stops[i].ID)
				return false
			}
			extended.Boards[i] = append(append([]*network.Edge(nil), route.Boards[i]...), e)
		}
		if i > 0 {
			e, ok := u.edges.AlightEdge(pattern.ID, i)
			if !ok {
				u.Logger.Warn("missing alight edge", "pattern", pattern.ID, "stop", route.Stops[i].ID)
				return false
			}
			extended.Alights[i-1] = append(append([]*network.Edge(nil), route.Alights[i-1]...), e)
		}
	}

	for i, r := range next.Routes {
		if r == route {
			next.Routes[i] = extended
			break
		}
	}

	for _, s := range route.Stops {
		old := next.RoutesForStop[s.Index]
		rs := make([]*Route, len(old))
		copy(rs, old)
		for j, r := range rs {
			if r == route {
				rs[j] = extended
				break
			}
		}
		next.RoutesForStop[s.Index] = rs
	}

	u.current.Store(next)
	return true
}
