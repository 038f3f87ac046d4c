package storage

import (
	"fmt"
	"sort"

	"tidbyt.dev/transitrt/model"
)

// In memory implementation of Storage below

type MemoryStorage struct {
	Feeds map[string]*MemoryStorageFeed
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Feeds: map[string]*MemoryStorageFeed{},
	}
}

func (s *MemoryStorage) GetReader(feedID string) (FeedReader, error) {
	f, ok := s.Feeds[feedID]
	if !ok {
		return nil, fmt.Errorf("feed '%s' not found", feedID)
	}
	return f, nil
}

func (s *MemoryStorage) GetWriter(feedID string) (FeedWriter, error) {
	f := &MemoryStorageFeed{
		agency:          map[string]*model.Agency{},
		stops:           map[string]*model.Stop{},
		routes:          map[string]*model.Route{},
		trips:           map[string]*model.Trip{},
		calendar:        map[string]*model.Calendar{},
		calendarDate:    map[string][]*model.CalendarDate{},
		stopTimesByTrip: map[string][]*model.StopTime{},
	}

	s.Feeds[feedID] = f

	return f, nil
}

type MemoryStorageFeed struct {
	agency          map[string]*model.Agency
	stops           map[string]*model.Stop
	routes          map[string]*model.Route
	trips           map[string]*model.Trip
	calendar        map[string]*model.Calendar
	calendarDate    map[string][]*model.CalendarDate
	stopTimesByTrip map[string][]*model.StopTime
}

func (f *MemoryStorageFeed) WriteAgency(agency *model.Agency) error {
	f.agency[agency.ID] = agency
	return nil
}

func (f *MemoryStorageFeed) WriteStop(stop *model.Stop) error {
	f.stops[stop.ID] = stop
	return nil
}

func (f *MemoryStorageFeed) WriteRoute(route *model.Route) error {
	f.routes[route.ID] = route
	return nil
}

func (f *MemoryStorageFeed) WriteTrip(trip *model.Trip) error {
	f.trips[trip.ID] = trip
	return nil
}

func (f *MemoryStorageFeed) WriteCalendar(row *model.Calendar) error {
	f.calendar[row.ServiceID] = row
	return nil
}

func (f *MemoryStorageFeed) WriteCalendarDate(row *model.CalendarDate) error {
	f.calendarDate[row.ServiceID] = append(f.calendarDate[row.ServiceID], row)
	return nil
}

func (f *MemoryStorageFeed) BeginStopTimes() error {
	return nil
}

func (f *MemoryStorageFeed) WriteStopTime(stopTime *model.StopTime) error {
	f.stopTimesByTrip[stopTime.TripID] = append(f.stopTimesByTrip[stopTime.TripID], stopTime)
	return nil
}

func (f *MemoryStorageFeed) EndStopTimes() error {
	for _, sts := range f.stopTimesByTrip {
		sort.Slice(sts, func(i, j int) bool {
			return sts[i].StopSequence < sts[j].StopSequence
		})
	}
	return nil
}

func (f *MemoryStorageFeed) Close() error {
	return nil
}

func (f *MemoryStorageFeed) Agencies() ([]*model.Agency, error) {
	agencies := []*model.Agency{}
	for _, v := range f.agency {
		agencies = append(agencies, v)
	}
	sort.Slice(agencies, func(i, j int) bool { return agencies[i].ID < agencies[j].ID })
	return agencies, nil
}

func (f *MemoryStorageFeed) Stops() ([]*model.Stop, error) {
	stops := []*model.Stop{}
	for _, v := range f.stops {
		stops = append(stops, v)
	}
	sort.Slice(stops, func(i, j int) bool { return stops[i].ID < stops[j].ID })
	return stops, nil
}

func (f *MemoryStorageFeed) Routes() ([]*model.Route, error) {
	routes := []*model.Route{}
	for _, v := range f.routes {
		routes = append(routes, v)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
	return routes, nil
}

func (f *MemoryStorageFeed) Trips() ([]*model.Trip, error) {
	trips := []*model.Trip{}
	for _, v := range f.trips {
		trips = append(trips, v)
	}
	sort.Slice(trips, func(i, j int) bool { return trips[i].ID < trips[j].ID })
	return trips, nil
}

func (f *MemoryStorageFeed) StopTimes() ([]*model.StopTime, error) {
	tripIDs := make([]string, 0, len(f.stopTimesByTrip))
	for tripID := range f.stopTimesByTrip {
		tripIDs = append(tripIDs, tripID)
	}
	sort.Strings(tripIDs)

	stopTimes := []*model.StopTime{}
	for _, tripID := range tripIDs {
		stopTimes = append(stopTimes, f.stopTimesByTrip[tripID]...)
	}
	return stopTimes, nil
}

func (f *MemoryStorageFeed) Calendars() ([]*model.Calendar, error) {
	cals := []*model.Calendar{}
	for _, v := range f.calendar {
		cals = append(cals, v)
	}
	sort.Slice(cals, func(i, j int) bool { return cals[i].ServiceID < cals[j].ServiceID })
	return cals, nil
}

func (f *MemoryStorageFeed) CalendarDates() ([]*model.CalendarDate, error) {
	cds := []*model.CalendarDate{}
	for _, v := range f.calendarDate {
		cds = append(cds, v...)
	}
	sort.Slice(cds, func(i, j int) bool {
		if cds[i].ServiceID != cds[j].ServiceID {
			return cds[i].ServiceID < cds[j].ServiceID
		}
		return cds[i].Date < cds[j].Date
	})
	return cds, nil
}
