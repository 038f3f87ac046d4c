package calendar

import (
	"sort"
	"sync"
	"time"

	"tidbyt.dev/transitrt/model"
)

// Registry maps service IDs to the dates they're active on.
//
// It's built from the static schedule and shared between the static
// network and the realtime updater, which may add services for added
// trips. Entries are never removed or altered once registered.
type Registry struct {
	mu       sync.RWMutex
	dates    map[string]map[model.ServiceDate]bool
	location *time.Location
}

func NewRegistry(location *time.Location) *Registry {
	if location == nil {
		location = time.UTC
	}
	return &Registry{
		dates:    map[string]map[model.ServiceDate]bool{},
		location: location,
	}
}

// Builds a Registry from calendar.txt and calendar_dates.txt records.
func FromStatic(location *time.Location, calendars []*model.Calendar, calendarDates []*model.CalendarDate) *Registry {
	r := NewRegistry(location)

	for _, c := range calendars {
		start, err := model.ParseServiceDate(c.StartDate)
		if err != nil {
			continue
		}
		end, err := model.ParseServiceDate(c.EndDate)
		if err != nil {
			continue
		}
		if r.dates[c.ServiceID] == nil {
			r.dates[c.ServiceID] = map[model.ServiceDate]bool{}
		}
		for d := start; d <= end; d = d.AddDays(1) {
			t, _ := time.Parse("20060102", string(d))
			if c.Weekday&(1<<t.Weekday()) != 0 {
				r.dates[c.ServiceID][d] = true
			}
		}
	}

	for _, cd := range calendarDates {
		if r.dates[cd.ServiceID] == nil {
			r.dates[cd.ServiceID] = map[model.ServiceDate]bool{}
		}
		date := model.ServiceDate(cd.Date)
		switch cd.ExceptionType {
		case model.ExceptionTypeAdded:
			r.dates[cd.ServiceID][date] = true
		case model.ExceptionTypeRemoved:
			delete(r.dates[cd.ServiceID], date)
		}
	}

	return r
}

func (r *Registry) Location() *time.Location {
	return r.location
}

// Registers a service as active on the given dates. Dates already
// known for the service are kept.
func (r *Registry) AddService(serviceID string, dates ...model.ServiceDate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dates[serviceID] == nil {
		r.dates[serviceID] = map[model.ServiceDate]bool{}
	}
	for _, d := range dates {
		r.dates[serviceID][d] = true
	}
}

func (r *Registry) HasService(serviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.dates[serviceID]
	return ok
}

func (r *Registry) ActiveOn(serviceID string, date model.ServiceDate) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dates[serviceID][date]
}

// Service IDs active on the given date, sorted.
func (r *Registry) ActiveServices(date model.ServiceDate) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := []string{}
	for id, dates := range r.dates {
		if dates[date] {
			services = append(services, id)
		}
	}
	sort.Strings(services)
	return services
}

func (r *Registry) ServiceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.dates))
	for id := range r.dates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
