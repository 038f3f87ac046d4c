package transitrt

import (
	"fmt"
	"time"

	"tidbyt.dev/transitrt/calendar"
	"tidbyt.dev/transitrt/network"
	"tidbyt.dev/transitrt/parse"
	"tidbyt.dev/transitrt/storage"
)

// A static GTFS schedule, parsed into storage.
type Static struct {
	Metadata *parse.StaticMetadata
	Reader   storage.FeedReader

	location *time.Location
}

func NewStatic(reader storage.FeedReader, metadata *parse.StaticMetadata) (*Static, error) {
	location, err := time.LoadLocation(metadata.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}

	return &Static{
		Metadata: metadata,
		Reader:   reader,
		location: location,
	}, nil
}

// The agency timezone. Service dates are interpreted in it.
func (s *Static) Location() *time.Location {
	return s.location
}

// Whether the feed's calendar covers the service day of the given
// time.
func (s *Static) Active(when time.Time) bool {
	nowThere := when.In(s.location)
	todayThere := time.Date(
		nowThere.Year(),
		nowThere.Month(),
		nowThere.Day(),
		0, 0, 0, 0,
		s.location,
	).Format("20060102")

	if s.Metadata.CalendarStartDate > todayThere {
		return false
	}
	if s.Metadata.CalendarEndDate < todayThere {
		return false
	}

	return true
}

// Builds the transit network from the feed.
func (s *Static) Network() (*network.Index, error) {
	net, err := network.FromFeed(s.Reader)
	if err != nil {
		return nil, fmt.Errorf("building network: %w", err)
	}
	return net, nil
}

// Builds the service calendar from the feed.
func (s *Static) Calendar() (*calendar.Registry, error) {
	calendars, err := s.Reader.Calendars()
	if err != nil {
		return nil, fmt.Errorf("reading calendars: %w", err)
	}
	calendarDates, err := s.Reader.CalendarDates()
	if err != nil {
		return nil, fmt.Errorf("reading calendar dates: %w", err)
	}

	return calendar.FromStatic(s.location, calendars, calendarDates), nil
}
