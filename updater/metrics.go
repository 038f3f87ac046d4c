package updater

import (
	"time"

	"tidbyt.dev/transitrt/model"
)

// Receives observability events from the updaters.
type Metrics interface {
	BatchApplied(status model.TripStatus)
	BatchRejected(status model.TripStatus, reason string)
	SnapshotCommitted(timetables int, at time.Time)
	TimetablesPurged()
	RouteIndexExtended()
	VehiclesIndexed(accepted, rejected, total int)
	FeedPolled(feed string, err error)
}

type nopMetrics struct{}

func (nopMetrics) BatchApplied(model.TripStatus) {}
func (nopMetrics) BatchRejected(model.TripStatus, string) {}
func (nopMetrics) SnapshotCommitted(int, time.Time) {}
func (nopMetrics) TimetablesPurged() {}
func (nopMetrics) RouteIndexExtended() {}
func (nopMetrics) VehiclesIndexed(int, int, int) {}
func (nopMetrics) FeedPolled(string, error) {}

// Metrics implementation discarding all events.
var NopMetrics Metrics = nopMetrics{}
