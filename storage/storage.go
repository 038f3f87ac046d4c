package storage

import (
	"tidbyt.dev/transitrt/model"
)

// Holds parsed static GTFS feeds. Feeds are identified by an opaque
// string, typically the hash of the zip archive.
type Storage interface {
	// Gets a reader for the feed with the given ID.
	GetReader(feed string) (FeedReader, error)

	// Gets a writer for the feed with the given ID. Any data
	// previously written under the same ID is discarded.
	GetWriter(feed string) (FeedWriter, error)
}

// Writes GTFS records for a single feed.
//
// As stop_times.txt tends to be very large, BeginStopTimes() and
// EndStopTimes() are called before and after all calls to
// WriteStopTime(), allowing transactions/batching/whathaveyou.
type FeedWriter interface {
	WriteAgency(agency *model.Agency) error
	WriteStop(stop *model.Stop) error
	WriteRoute(route *model.Route) error
	WriteTrip(trip *model.Trip) error
	WriteCalendar(cal *model.Calendar) error
	WriteCalendarDate(caldate *model.CalendarDate) error
	BeginStopTimes() error
	WriteStopTime(stopTime *model.StopTime) error
	EndStopTimes() error
	Close() error
}

// Reads back the records of a feed. This is all the static network
// index needs: it's loaded once and then held in memory.
type FeedReader interface {
	Agencies() ([]*model.Agency, error)
	Stops() ([]*model.Stop, error)
	Routes() ([]*model.Route, error)
	Trips() ([]*model.Trip, error)

	// Ordered by trip_id, then stop_sequence.
	StopTimes() ([]*model.StopTime, error)

	Calendars() ([]*model.Calendar, error)
	CalendarDates() ([]*model.CalendarDate, error)
}
