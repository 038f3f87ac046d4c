package model

import (
	"fmt"
	"time"
)

// Holds all external facing types and constants.

type LocationType int

const (
	LocationTypeStop LocationType = iota
	LocationTypeStation
	LocationTypeEntranceExit
	LocationTypeGenericNode
	LocationTypeBoardingArea
)

type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCable      RouteType = 5
	RouteTypeAerial     RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
)

type ExceptionType int8

const (
	ExceptionTypeAdded   ExceptionType = 1
	ExceptionTypeRemoved ExceptionType = 2
)

type Agency struct {
	ID       string
	Name     string
	URL      string
	Timezone string
}

type Calendar struct {
	ServiceID string
	StartDate string
	EndDate   string
	Weekday   int8
}

type CalendarDate struct {
	ServiceID     string
	Date          string
	ExceptionType ExceptionType
}

type Stop struct {
	ID            string
	Code          string
	Name          string
	Lat           float64
	Lon           float64
	LocationType  LocationType
	ParentStation string
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Type      RouteType
	Color     string
}

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	DirectionID int8
}

// Times are kept as seconds after midnight of the service day. GTFS
// allows these to exceed 24h for trips running past midnight.
type StopTime struct {
	TripID       string
	StopID       string
	StopSequence uint32
	Arrival      int32
	Departure    int32
}

// A service day, formatted YYYYMMDD. The string form sorts
// chronologically, which the purge logic relies on.
type ServiceDate string

const serviceDateLayout = "20060102"

func NewServiceDate(t time.Time) ServiceDate {
	return ServiceDate(t.Format(serviceDateLayout))
}

func ParseServiceDate(s string) (ServiceDate, error) {
	if _, err := time.ParseInLocation(serviceDateLayout, s, time.UTC); err != nil {
		return "", fmt.Errorf("parsing service date '%s': %w", s, err)
	}
	return ServiceDate(s), nil
}

func (d ServiceDate) AddDays(n int) ServiceDate {
	t, err := time.ParseInLocation(serviceDateLayout, string(d), time.UTC)
	if err != nil {
		return d
	}
	return NewServiceDate(t.AddDate(0, 0, n))
}

// Start of the service day in loc. As per GTFS, this is "noon minus
// 12h", which differs from midnight on days with DST transitions.
func (d ServiceDate) Midnight(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(serviceDateLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	noon := time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, loc)
	return noon.Add(-12 * time.Hour)
}

// An ordered stop sequence shared by one or more trips on the same
// route. Never mutated once constructed.
type TripPattern struct {
	ID      string
	RouteID string
	Mode    RouteType
	Stops   []string
}

func (p *TripPattern) SameStops(stops []string) bool {
	if len(p.Stops) != len(stops) {
		return false
	}
	for i := range stops {
		if p.Stops[i] != stops[i] {
			return false
		}
	}
	return true
}

func (p *TripPattern) String() string {
	return fmt.Sprintf("pattern %s (route %s, %d stops)", p.ID, p.RouteID, len(p.Stops))
}
