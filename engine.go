package transitrt

import (
	"context"
	"fmt"
	"log/slog"

	"tidbyt.dev/transitrt/calendar"
	"tidbyt.dev/transitrt/model"
	"tidbyt.dev/transitrt/network"
	"tidbyt.dev/transitrt/parse"
	"tidbyt.dev/transitrt/raptor"
	"tidbyt.dev/transitrt/timetable"
	"tidbyt.dev/transitrt/updater"
	"tidbyt.dev/transitrt/vehicle"
)

type EngineOptions struct {
	// Walking distance, in meters, for the route index's nearby
	// stop table. Defaults to raptor.DefaultMaxWalkDistance.
	MaxWalkDistance float64

	// Zoom level of the vehicle index's tile grid. Defaults to
	// vehicle.DefaultTileZoom.
	TileZoom int

	// When set, each vehicle feed replaces the vehicle index.
	ReplaceVehicles bool

	WriterQueueSize int

	Logger  *slog.Logger
	Metrics updater.Metrics
}

// Engine holds the realtime state of one transit network: timetables
// with trip updates applied, the route index and vehicle positions.
//
// All timetable and route index mutations run on the engine's writer.
// Reads never block on it.
type Engine struct {
	Static     *Static
	Network    *network.Index
	Calendar   *calendar.Registry
	Routes     *raptor.Updater
	Controller *updater.Controller
	Writer     *updater.Writer
	Vehicles   *vehicle.Index
	Feeder     *updater.VehicleFeeder

	logger  *slog.Logger
	metrics updater.Metrics
}

// Builds the realtime engine on top of a static schedule.
func NewEngine(static *Static, opts EngineOptions) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = updater.NopMetrics
	}
	maxWalk := opts.MaxWalkDistance
	if maxWalk <= 0 {
		maxWalk = raptor.DefaultMaxWalkDistance
	}

	net, err := static.Network()
	if err != nil {
		return nil, err
	}

	cal, err := static.Calendar()
	if err != nil {
		return nil, err
	}

	data, err := raptor.Build(net, maxWalk)
	if err != nil {
		return nil, fmt.Errorf("building route index: %w", err)
	}

	routes := raptor.NewUpdater(data, net)
	routes.Logger = logger.With("component", "raptor")

	controller := updater.NewController(net, cal, routes)
	controller.Logger = logger.With("component", "timetable")
	controller.Metrics = metrics

	vehicles := vehicle.NewIndex(controller, opts.TileZoom)

	feeder := updater.NewVehicleFeeder(net, controller, vehicles)
	feeder.Replace = opts.ReplaceVehicles
	feeder.Logger = logger.With("component", "vehicles")
	feeder.Metrics = metrics

	logger.Info(
		"engine ready",
		"network", net.String(),
		"stops", len(data.Stops),
		"routes", len(data.Routes),
	)

	return &Engine{
		Static:     static,
		Network:    net,
		Calendar:   cal,
		Routes:     routes,
		Controller: controller,
		Writer:     updater.NewWriter(opts.WriterQueueSize, logger),
		Vehicles:   vehicles,
		Feeder:     feeder,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Applies trip update batches on the writer and waits for them.
// Returns the number of batches applied.
func (e *Engine) ApplyBatches(ctx context.Context, batches []model.TripUpdateBatch) (int, error) {
	applied := 0
	err := e.Writer.Execute(ctx, func() error {
		applied = e.Controller.ApplyBatches(batches)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// Decodes GTFS-realtime trip update feeds and applies them.
func (e *Engine) ApplyTripUpdates(ctx context.Context, feeds [][]byte) (int, error) {
	feed, err := parse.ParseTripUpdates(ctx, feeds, e.Static.Location())
	if err != nil {
		return 0, fmt.Errorf("parsing trip updates: %w", err)
	}
	return e.ApplyBatches(ctx, feed.Batches)
}

// Forces publication of pending changes, and returns the resulting
// snapshot.
func (e *Engine) Commit(ctx context.Context) (*timetable.Snapshot, error) {
	var snapshot *timetable.Snapshot
	err := e.Writer.Execute(ctx, func() error {
		snapshot = e.Controller.Commit(true)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// The current timetable snapshot.
func (e *Engine) Snapshot() *timetable.Snapshot {
	return e.Controller.Snapshot()
}

// The current route index.
func (e *Engine) RouteIndex() *raptor.Data {
	return e.Routes.Current()
}

// A trip's times on a service date according to the current
// snapshot, along with the pattern it runs on. Nil if the trip isn't
// known for the date.
func (e *Engine) TripTimes(tripID string, date model.ServiceDate) (*timetable.TripTimes, *model.TripPattern) {
	snapshot := e.Snapshot()
	pattern := snapshot.PatternForTrip(tripID, date)
	if pattern == nil {
		return nil, nil
	}
	return snapshot.TripTimes(pattern, date, tripID), pattern
}

// Validates and indexes vehicle locations. Returns the number
// accepted.
func (e *Engine) AddVehicleLocations(locations []model.VehicleLocation) int {
	return e.Feeder.Feed(locations)
}

// Decodes GTFS-realtime vehicle position feeds and indexes them.
func (e *Engine) AddVehiclePositions(ctx context.Context, feeds [][]byte, agencyID string) (int, error) {
	feed, err := parse.ParseVehiclePositions(ctx, feeds, agencyID)
	if err != nil {
		return 0, fmt.Errorf("parsing vehicle positions: %w", err)
	}
	return e.AddVehicleLocations(feed.Locations), nil
}

// Creates a poller applying a trip update feed to the engine.
func (e *Engine) TripUpdatePoller(source updater.FeedSource) *updater.TripUpdatePoller {
	p := updater.NewTripUpdatePoller(source, e.Static.Location(), e.Writer, e.Controller)
	p.Logger = e.logger.With("component", "poller", "feed", p.Source.Name)
	p.Metrics = e.metrics
	return p
}

// Creates a poller indexing a vehicle position feed.
func (e *Engine) VehiclePoller(source updater.FeedSource, agencyID string) *updater.VehiclePoller {
	p := updater.NewVehiclePoller(source, agencyID, e.Feeder)
	p.Logger = e.logger.With("component", "poller", "feed", p.Source.Name)
	p.Metrics = e.metrics
	return p
}

// Stops the writer after running any queued mutations.
func (e *Engine) Close() {
	e.Writer.Close()
}
