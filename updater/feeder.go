package updater

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"tidbyt.dev/transitrt/model"
	"tidbyt.dev/transitrt/network"
	"tidbyt.dev/transitrt/vehicle"
)

var (
	ErrMissingVehicleID = errors.New("missing vehicle id")
	ErrStopNotOnTrip    = errors.New("stop not on trip's pattern")
)

// Resolves trips against the published realtime state, so that added
// and modified trips are known.
type TripResolver interface {
	RouteForTrip(tripID string) (string, bool)
	PatternForTrip(tripID string, date model.ServiceDate) *model.TripPattern
}

// VehicleFeeder checks vehicle locations against the network and
// published trips before storing them in the vehicle index.
type VehicleFeeder struct {
	// When set, each feed replaces the index contents. Otherwise
	// locations are added one by one and vehicles missing from a
	// feed are kept.
	Replace bool

	Logger  *slog.Logger
	Metrics Metrics

	net   *network.Index
	trips TripResolver
	index *vehicle.Index
}

func NewVehicleFeeder(net *network.Index, trips TripResolver, index *vehicle.Index) *VehicleFeeder {
	return &VehicleFeeder{
		Logger:  slog.Default().With("component", "vehicles"),
		Metrics: NopMetrics,
		net:     net,
		trips:   trips,
		index:   index,
	}
}

// Validates and indexes the locations. Returns the number of locations
// accepted by the index.
func (f *VehicleFeeder) Feed(locations []model.VehicleLocation) int {
	valid := make([]model.VehicleLocation, 0, len(locations))
	for _, loc := range locations {
		if err := f.validate(loc); err != nil {
			f.Logger.Warn("dropping vehicle location", "vehicle", loc.VehicleID, "error", err)
			continue
		}
		valid = append(valid, loc)
	}

	accepted := len(valid)
	if f.Replace {
		f.index.Refresh(valid)
	} else {
		accepted = 0
		for _, loc := range valid {
			if f.index.Add(loc) {
				accepted++
			} else {
				f.Logger.Debug("ignoring stale vehicle location", "vehicle", loc.VehicleID, "timestamp", loc.Timestamp)
			}
		}
	}

	f.Metrics.VehiclesIndexed(accepted, len(locations)-len(valid), f.index.Len())

	return accepted
}

func (f *VehicleFeeder) validate(loc model.VehicleLocation) error {
	if loc.VehicleID == "" {
		return ErrMissingVehicleID
	}

	if loc.RouteID != "" && !f.net.HasRoute(loc.RouteID) {
		return fmt.Errorf("%w: %s", ErrMissingRoute, loc.RouteID)
	}

	if loc.TripID != "" {
		if _, ok := f.trips.RouteForTrip(loc.TripID); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTrip, loc.TripID)
		}
	}

	if loc.StopID != "" {
		if !f.net.HasStop(loc.StopID) {
			return fmt.Errorf("%w: %s", ErrUnknownStop, loc.StopID)
		}
		if loc.TripID != "" {
			pattern := f.trips.PatternForTrip(loc.TripID, loc.ServiceDate)
			if pattern != nil && !slices.Contains(pattern.Stops, loc.StopID) {
				return fmt.Errorf("%w: stop %s, trip %s", ErrStopNotOnTrip, loc.StopID, loc.TripID)
			}
		}
	}

	return nil
}
