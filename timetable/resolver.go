package timetable

import (
	"fmt"
	"maps"
	"time"

	"tidbyt.dev/transitrt/model"
)

type key struct {
	PatternID   string
	ServiceDate model.ServiceDate
}

type tripKey struct {
	TripID      string
	ServiceDate model.ServiceDate
}

// The static schedule: scheduled timetables and the patterns of
// scheduled trips.
type ScheduledSource interface {
	ScheduledTimetable(patternID string) *Timetable
	PatternForTrip(tripID string) *model.TripPattern
	RouteForTrip(tripID string) (string, bool)
}

// Patterns assigned to trips on single service dates, overriding the
// schedule. Added trips are only known through assignments.
type assignments struct {
	patterns map[tripKey]*model.TripPattern
	trips    map[string]assignedTrip
}

type assignedTrip struct {
	// Route of the latest assignment
	RouteID string
	Dates   int
}

func (a assignments) clone() assignments {
	return assignments{
		patterns: maps.Clone(a.patterns),
		trips:    maps.Clone(a.trips),
	}
}

func patternForTrip(a assignments, scheduled ScheduledSource, tripID string, date model.ServiceDate) *model.TripPattern {
	if p, ok := a.patterns[tripKey{tripID, date}]; ok {
		return p
	}
	if scheduled == nil {
		return nil
	}
	return scheduled.PatternForTrip(tripID)
}

func routeForTrip(a assignments, scheduled ScheduledSource, tripID string) (string, bool) {
	if scheduled != nil {
		if routeID, ok := scheduled.RouteForTrip(tripID); ok {
			return routeID, true
		}
	}
	if trip, ok := a.trips[tripID]; ok {
		return trip.RouteID, true
	}
	return "", false
}

// The working copy of realtime timetables. Owned by a single writer
// and never handed to readers: Commit() produces an immutable
// Snapshot.
type Buffer struct {
	scheduled  ScheduledSource
	timetables map[key]*Timetable
	assigned   assignments
	dirty      bool
	generation uint64
}

func NewBuffer(scheduled ScheduledSource) *Buffer {
	return &Buffer{
		scheduled:  scheduled,
		timetables: map[key]*Timetable{},
		assigned: assignments{
			patterns: map[tripKey]*model.TripPattern{},
			trips:    map[string]assignedTrip{},
		},
	}
}

// Returns the timetable for pattern on date. Falls back to the
// scheduled timetable if no realtime data exists.
func (b *Buffer) Resolve(pattern *model.TripPattern, date model.ServiceDate) *Timetable {
	return resolve(b.timetables, b.scheduled, pattern, date)
}

// Installs timetables in the buffer. All timetables passed in a single
// call become visible in the same snapshot.
func (b *Buffer) Set(timetables ...*Timetable) {
	for _, tt := range timetables {
		b.timetables[key{tt.Pattern.ID, tt.ServiceDate}] = tt
	}
	if len(timetables) > 0 {
		b.dirty = true
	}
}

// Runs the trip along pattern on date, in place of its scheduled
// pattern. Becomes visible with the next snapshot, together with the
// timetables set alongside it.
func (b *Buffer) Assign(tripID string, date model.ServiceDate, pattern *model.TripPattern) {
	k := tripKey{tripID, date}
	trip := b.assigned.trips[tripID]
	if _, ok := b.assigned.patterns[k]; !ok {
		trip.Dates++
	}
	trip.RouteID = pattern.RouteID
	b.assigned.trips[tripID] = trip
	b.assigned.patterns[k] = pattern
	b.dirty = true
}

// The pattern the trip runs along on date, or nil for unknown trips.
func (b *Buffer) PatternForTrip(tripID string, date model.ServiceDate) *model.TripPattern {
	return patternForTrip(b.assigned, b.scheduled, tripID, date)
}

func (b *Buffer) Dirty() bool {
	return b.dirty
}

func (b *Buffer) Len() int {
	return len(b.timetables)
}

// Removes all timetables and trip assignments for service dates
// before the given date. Reports whether anything was removed.
func (b *Buffer) PurgeExpired(before model.ServiceDate) bool {
	modified := false
	for k := range b.timetables {
		if k.ServiceDate < before {
			delete(b.timetables, k)
			modified = true
		}
	}
	for k := range b.assigned.patterns {
		if k.ServiceDate < before {
			delete(b.assigned.patterns, k)
			trip := b.assigned.trips[k.TripID]
			if trip.Dates--; trip.Dates == 0 {
				delete(b.assigned.trips, k.TripID)
			} else {
				b.assigned.trips[k.TripID] = trip
			}
			modified = true
		}
	}
	if modified {
		b.dirty = true
	}
	return modified
}

// Freezes the buffer into a Snapshot. The snapshot owns its own copy
// of the pattern/date index and trip assignments; timetables and
// patterns themselves are immutable and shared.
func (b *Buffer) Commit(now time.Time) *Snapshot {
	b.generation++
	b.dirty = false
	return &Snapshot{
		scheduled:   b.scheduled,
		timetables:  maps.Clone(b.timetables),
		assigned:    b.assigned.clone(),
		generation:  b.generation,
		committedAt: now,
	}
}

func (b *Buffer) String() string {
	return fmt.Sprintf(
		"buffer (%d timetables, %d assigned trips, dirty=%t)",
		len(b.timetables), len(b.assigned.patterns), b.dirty,
	)
}

// Immutable, point-in-time view of all realtime timetables. Safe for
// concurrent use; a Snapshot never changes after creation.
type Snapshot struct {
	scheduled   ScheduledSource
	timetables  map[key]*Timetable
	assigned    assignments
	generation  uint64
	committedAt time.Time
}

// The pattern the trip runs along on date as of this snapshot, or nil
// for unknown trips.
func (s *Snapshot) PatternForTrip(tripID string, date model.ServiceDate) *model.TripPattern {
	return patternForTrip(s.assigned, s.scheduled, tripID, date)
}

// Route of a scheduled trip, or of a trip added on any date still
// held by this snapshot.
func (s *Snapshot) RouteForTrip(tripID string) (string, bool) {
	return routeForTrip(s.assigned, s.scheduled, tripID)
}

func (s *Snapshot) Resolve(pattern *model.TripPattern, date model.ServiceDate) *Timetable {
	return resolve(s.timetables, s.scheduled, pattern, date)
}

// Returns the trip's times on date, or nil if the trip isn't part of
// the pattern's timetable.
func (s *Snapshot) TripTimes(pattern *model.TripPattern, date model.ServiceDate, tripID string) *TripTimes {
	tt := s.Resolve(pattern, date)
	if tt == nil {
		return nil
	}
	return tt.Trip(tripID)
}

// Whether realtime data exists for the pattern on date.
func (s *Snapshot) HasRealtime(pattern *model.TripPattern, date model.ServiceDate) bool {
	_, ok := s.timetables[key{pattern.ID, date}]
	return ok
}

func (s *Snapshot) Len() int {
	return len(s.timetables)
}

func (s *Snapshot) Generation() uint64 {
	return s.generation
}

func (s *Snapshot) CommittedAt() time.Time {
	return s.committedAt
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot #%d (%d timetables)", s.generation, len(s.timetables))
}

func resolve(
	timetables map[key]*Timetable,
	scheduled ScheduledSource,
	pattern *model.TripPattern,
	date model.ServiceDate,
) *Timetable {
	if tt, ok := timetables[key{pattern.ID, date}]; ok {
		return tt
	}
	if scheduled == nil {
		return NewTimetable(pattern, "", nil)
	}
	if tt := scheduled.ScheduledTimetable(pattern.ID); tt != nil {
		return tt
	}
	return NewTimetable(pattern, "", nil)
}
