package updater

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tidbyt.dev/transitrt/calendar"
	"tidbyt.dev/transitrt/model"
	"tidbyt.dev/transitrt/network"
	"tidbyt.dev/transitrt/timetable"
)

const (
	DefaultMaxSnapshotFrequency = 1 * time.Second
	DefaultLogFrequency         = 2000

	// Timetables for service dates this many days before today are
	// purged.
	purgeAfterDays = 2
)

var (
	ErrNoPattern    = errors.New("no pattern found for trip")
	ErrIncoherent   = errors.New("incoherent trip update")
	ErrEmptyUpdate  = errors.New("trip update has no stop time data")
	ErrUnknownTrip  = errors.New("trip not found in timetable")
	ErrUnknownStop  = errors.New("unknown stop")
	ErrMissingRoute = errors.New("route not found")
	ErrRouteIndex   = errors.New("route index rejected pattern")
	ErrStale        = errors.New("trip update older than current data")
	ErrUnsupported  = errors.New("unsupported trip status")
)

// Serves as a metrics label for a rejection.
func reason(err error) string {
	for _, e := range []struct {
		err    error
		reason string
	}{
		{ErrNoPattern, "no_pattern"},
		{ErrEmptyUpdate, "empty"},
		{ErrIncoherent, "incoherent"},
		{ErrUnknownTrip, "unknown_trip"},
		{ErrUnknownStop, "unknown_stop"},
		{ErrMissingRoute, "missing_route"},
		{ErrRouteIndex, "route_index"},
		{ErrStale, "stale"},
		{ErrUnsupported, "unsupported"},
	} {
		if errors.Is(err, e.err) {
			return e.reason
		}
	}
	return "other"
}

// The route index, as far as the controller is concerned.
type RouteIndex interface {
	Extend(pattern *model.TripPattern) bool
}

// Controller applies trip update batches to a Buffer of realtime
// timetables and publishes Snapshots of it.
//
// All methods except Snapshot must be called from a single goroutine,
// normally the one owned by a Writer. Snapshot may be called from
// anywhere.
type Controller struct {
	// Minimum time between published snapshots, unless forced.
	MaxSnapshotFrequency time.Duration
	// Whether to drop timetables for past service dates.
	PurgeExpiredData bool
	// Log the number of applied batches every this many batches.
	LogFrequency int

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics Metrics

	net    *network.Index
	cal    *calendar.Registry
	routes RouteIndex

	buffer   *timetable.Buffer
	snapshot atomic.Pointer[timetable.Snapshot]

	lastSnapshotTime time.Time
	lastPurgeDate    model.ServiceDate
	appliedCount     int
}

// Creates a controller with an empty buffer on top of the static
// network. The calendar registry is extended with services of added
// trips, and the route index with their patterns.
func NewController(net *network.Index, cal *calendar.Registry, routes RouteIndex) *Controller {
	c := &Controller{
		MaxSnapshotFrequency: DefaultMaxSnapshotFrequency,
		PurgeExpiredData:     true,
		LogFrequency:         DefaultLogFrequency,
		Now:                  time.Now,
		Logger:               slog.Default().With("component", "timetable"),
		Metrics:              NopMetrics,

		net:    net,
		cal:    cal,
		routes: routes,
		buffer: timetable.NewBuffer(net),
	}

	c.snapshot.Store(c.buffer.Commit(time.Time{}))

	return c
}

// The most recently published snapshot. Never nil.
func (c *Controller) Snapshot() *timetable.Snapshot {
	return c.snapshot.Load()
}

// Publishes the buffer as a new snapshot if it has changed and the
// previous snapshot is older than MaxSnapshotFrequency. With force,
// a snapshot is always published.
func (c *Controller) Commit(force bool) *timetable.Snapshot {
	now := c.Now()

	if force || now.Sub(c.lastSnapshotTime) > c.MaxSnapshotFrequency {
		if force || c.buffer.Dirty() {
			snapshot := c.buffer.Commit(now)
			c.snapshot.Store(snapshot)
			c.lastSnapshotTime = now
			c.Metrics.SnapshotCommitted(snapshot.Len(), now)
			c.Logger.Debug("committed snapshot", "generation", snapshot.Generation(), "timetables", snapshot.Len())
		}
	}

	return c.snapshot.Load()
}

// Applies the batches of one decoded feed message. Failures are
// logged and counted but never interrupt processing of the remaining
// batches. Returns the number of batches applied.
func (c *Controller) ApplyBatches(batches []model.TripUpdateBatch) int {
	applied := 0

	for _, batch := range batches {
		err := c.Apply(batch)
		if err != nil {
			c.Metrics.BatchRejected(batch.Status, reason(err))
			if errors.Is(err, ErrStale) || errors.Is(err, ErrUnsupported) {
				c.Logger.Debug("skipping batch", "batch", batch.String(), "error", err)
			} else {
				c.Logger.Warn("failed to apply batch", "batch", batch.String(), "error", err)
			}
			continue
		}

		c.Metrics.BatchApplied(batch.Status)
		applied++

		c.appliedCount++
		if c.LogFrequency > 0 && c.appliedCount%c.LogFrequency == 0 {
			c.Logger.Info("applied trip update batches", "count", c.appliedCount)
		}
	}

	purged := false
	if c.PurgeExpiredData {
		purged = c.purgeExpired()
	}

	c.Commit(purged)

	return applied
}

// Applies a single batch to the buffer. The buffer is left untouched
// when an error is returned.
func (c *Controller) Apply(batch model.TripUpdateBatch) error {
	if batch.Timestamp.IsZero() {
		batch.Timestamp = c.Now()
	}

	var err error
	switch batch.Status {
	case model.TripAdded:
		err = c.handleAdded(batch)
	case model.TripUpdated:
		err = c.handleUpdated(batch)
	case model.TripCanceled:
		err = c.handleCanceled(batch)
	case model.TripModified:
		err = c.handleModified(batch)
	case model.TripRemoved:
		err = ErrUnsupported
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, batch.Status)
	}

	if err != nil {
		return fmt.Errorf("%s trip %s on %s: %w", batch.Status, batch.TripID, batch.ServiceDate, err)
	}
	return nil
}

func (c *Controller) handleUpdated(batch model.TripUpdateBatch) error {
	pattern := c.buffer.PatternForTrip(batch.TripID, batch.ServiceDate)
	if pattern == nil {
		return ErrNoPattern
	}

	tt, err := c.updatedTimetable(pattern, batch)
	if err != nil {
		return err
	}

	c.buffer.Set(tt)
	return nil
}

// Computes the pattern's timetable with the batch applied to the
// trip's current times.
func (c *Controller) updatedTimetable(pattern *model.TripPattern, batch model.TripUpdateBatch) (*timetable.Timetable, error) {
	updates, err := c.validUpdates(batch)
	if err != nil {
		return nil, err
	}

	current := c.buffer.Resolve(pattern, batch.ServiceDate)
	existing := current.Trip(batch.TripID)
	if existing == nil {
		return nil, ErrUnknownTrip
	}
	if existing.IsRealtime() && batch.Timestamp.Before(existing.Timestamp) {
		return nil, ErrStale
	}

	updated, err := existing.Apply(pattern, updates, batch.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncoherent, err)
	}

	return current.WithTrip(batch.ServiceDate, updated), nil
}

// The batch's updates with leading and trailing records lacking data
// removed.
func (c *Controller) validUpdates(batch model.TripUpdateBatch) ([]model.Update, error) {
	filtered := batch.Filtered()
	if len(filtered.Updates) == 0 {
		return nil, ErrEmptyUpdate
	}
	if !filtered.Coherent() {
		return nil, ErrIncoherent
	}
	return filtered.Updates, nil
}

func (c *Controller) handleCanceled(batch model.TripUpdateBatch) error {
	pattern := c.buffer.PatternForTrip(batch.TripID, batch.ServiceDate)
	if pattern == nil {
		return ErrNoPattern
	}

	current := c.buffer.Resolve(pattern, batch.ServiceDate)
	existing := current.Trip(batch.TripID)
	if existing == nil {
		return ErrUnknownTrip
	}
	if existing.IsRealtime() && batch.Timestamp.Before(existing.Timestamp) {
		return ErrStale
	}

	c.buffer.Set(current.WithTrip(batch.ServiceDate, existing.WithCanceled(batch.Timestamp)))
	return nil
}

func (c *Controller) handleAdded(batch model.TripUpdateBatch) error {
	if c.buffer.PatternForTrip(batch.TripID, batch.ServiceDate) != nil {
		return c.handleUpdated(batch)
	}

	pattern, trip, err := c.buildTrip(batch, batch.RouteID)
	if err != nil {
		return err
	}

	c.registerTrip(batch, pattern)

	base := c.buffer.Resolve(pattern, batch.ServiceDate)
	c.buffer.Set(base.WithTrip(batch.ServiceDate, trip))
	return nil
}

// Replaces a trip with a rebuilt one. The replacement is fully
// validated before anything is changed; the old trip is then canceled
// and the new one added in a single buffer mutation.
func (c *Controller) handleModified(batch model.TripUpdateBatch) error {
	oldPattern := c.buffer.PatternForTrip(batch.TripID, batch.ServiceDate)
	if oldPattern == nil {
		return ErrNoPattern
	}

	oldTimetable := c.buffer.Resolve(oldPattern, batch.ServiceDate)
	oldTrip := oldTimetable.Trip(batch.TripID)
	if oldTrip == nil {
		return ErrUnknownTrip
	}
	if oldTrip.IsRealtime() && batch.Timestamp.Before(oldTrip.Timestamp) {
		return ErrStale
	}

	routeID := batch.RouteID
	if routeID == "" {
		routeID = oldPattern.RouteID
	}

	pattern, trip, err := c.buildTrip(batch, routeID)
	if err != nil {
		return err
	}

	c.registerTrip(batch, pattern)

	if pattern.ID == oldPattern.ID {
		c.buffer.Set(oldTimetable.WithTrip(batch.ServiceDate, trip))
		return nil
	}

	canceled := oldTimetable.WithTrip(batch.ServiceDate, oldTrip.WithCanceled(batch.Timestamp))
	added := c.buffer.Resolve(pattern, batch.ServiceDate).WithTrip(batch.ServiceDate, trip)
	c.buffer.Set(canceled, added)

	return nil
}

// Builds the pattern and times of a trip described entirely by the
// batch, which must carry absolute times for every stop. The pattern
// is created in the network and route index if needed; nothing else
// is modified.
func (c *Controller) buildTrip(batch model.TripUpdateBatch, routeID string) (*model.TripPattern, *timetable.TripTimes, error) {
	updates, err := c.validUpdates(batch)
	if err != nil {
		return nil, nil, err
	}

	if routeID == "" {
		return nil, nil, ErrMissingRoute
	}
	if !c.net.HasRoute(routeID) {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingRoute, routeID)
	}

	stops := make([]string, len(updates))
	for i, u := range updates {
		if !c.net.HasStop(u.StopID) {
			return nil, nil, fmt.Errorf("%w: '%s'", ErrUnknownStop, u.StopID)
		}
		stops[i] = u.StopID
	}

	scheduled, err := timetable.AddedTripTimes(batch.TripID, updates)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrIncoherent, err)
	}

	// Patterns and route index entries are extension-only: when a
	// later check fails they stay behind unused.
	pattern, created, err := c.net.FindOrAddPattern(routeID, stops)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrIncoherent, err)
	}
	if created {
		c.Logger.Info("created pattern", "pattern", pattern.ID, "trip", batch.TripID)
	}

	if !c.routes.Extend(pattern) {
		return nil, nil, fmt.Errorf("%w: %s", ErrRouteIndex, pattern.ID)
	}
	if created {
		c.Metrics.RouteIndexExtended()
	}

	// The added times act as the trip's schedule, to which the
	// updates are then applied like any other
	trip, err := scheduled.Apply(pattern, updates, batch.Timestamp)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrIncoherent, err)
	}

	return pattern, trip, nil
}

// Records the trip as running on pattern on the batch's date, and its
// service as active on that date. The assignment is published with
// the trip's timetable in the next snapshot.
func (c *Controller) registerTrip(batch model.TripUpdateBatch, pattern *model.TripPattern) {
	serviceID := batch.ServiceID
	if serviceID == "" {
		serviceID = "ADDED-SERVICE-" + string(batch.ServiceDate)
	}
	c.cal.AddService(serviceID, batch.ServiceDate)
	c.buffer.Assign(batch.TripID, batch.ServiceDate, pattern)
}

// Route of a scheduled trip, or of an added one as of the current
// snapshot. Safe for concurrent use.
func (c *Controller) RouteForTrip(tripID string) (string, bool) {
	return c.Snapshot().RouteForTrip(tripID)
}

// The pattern a trip runs along on date as of the current snapshot.
// Safe for concurrent use.
func (c *Controller) PatternForTrip(tripID string, date model.ServiceDate) *model.TripPattern {
	return c.Snapshot().PatternForTrip(tripID, date)
}

// Purges timetables of past service dates, at most once per day.
// Reports whether anything was removed.
func (c *Controller) purgeExpired() bool {
	today := model.NewServiceDate(c.Now().In(c.cal.Location()))
	if c.lastPurgeDate != "" && c.lastPurgeDate >= today {
		return false
	}
	c.lastPurgeDate = today

	if !c.buffer.PurgeExpired(today.AddDays(-purgeAfterDays)) {
		return false
	}

	c.Metrics.TimetablesPurged()
	c.Logger.Info("purged expired timetables", "before", today.AddDays(-purgeAfterDays))
	return true
}
