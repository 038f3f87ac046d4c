package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tidbyt.dev/transitrt/model"
)

// Collector exposes realtime updater events as Prometheus metrics on
// its own registry.
type Collector struct {
	reg *prometheus.Registry

	BatchesApplied  *prometheus.CounterVec // status label
	BatchesRejected *prometheus.CounterVec // status, reason labels

	SnapshotsCommitted prometheus.Counter
	SnapshotTimetables prometheus.Gauge
	SnapshotTimestamp  prometheus.Gauge // unix seconds

	TimetablePurges prometheus.Counter
	RouteExtensions prometheus.Counter

	VehiclesAccepted prometheus.Counter
	VehiclesRejected prometheus.Counter
	VehiclesCurrent  prometheus.Gauge

	FeedPolls      *prometheus.CounterVec // feed label
	FeedPollErrors *prometheus.CounterVec // feed label
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		BatchesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitrt_batches_applied_total",
			Help: "Trip update batches applied to the timetable buffer.",
		}, []string{"status"}),
		BatchesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitrt_batches_rejected_total",
			Help: "Trip update batches rejected.",
		}, []string{"status", "reason"}),
		SnapshotsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitrt_snapshots_committed_total",
			Help: "Timetable snapshots published.",
		}),
		SnapshotTimetables: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitrt_snapshot_timetables",
			Help: "Realtime timetables in the latest snapshot.",
		}),
		SnapshotTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitrt_snapshot_timestamp_seconds",
			Help: "Commit time of the latest snapshot.",
		}),
		TimetablePurges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitrt_timetable_purges_total",
			Help: "Purges of expired timetables that removed data.",
		}),
		RouteExtensions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitrt_route_index_extensions_total",
			Help: "Patterns added to the route index by realtime trips.",
		}),
		VehiclesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitrt_vehicle_locations_accepted_total",
			Help: "Vehicle locations stored in the index.",
		}),
		VehiclesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitrt_vehicle_locations_rejected_total",
			Help: "Vehicle locations dropped for referencing unknown entities.",
		}),
		VehiclesCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitrt_vehicles_indexed",
			Help: "Vehicles currently in the index.",
		}),
		FeedPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitrt_feed_polls_total",
			Help: "Realtime feed polls.",
		}, []string{"feed"}),
		FeedPollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitrt_feed_poll_errors_total",
			Help: "Realtime feed polls that failed.",
		}, []string{"feed"}),
	}

	reg.MustRegister(
		c.BatchesApplied, c.BatchesRejected,
		c.SnapshotsCommitted, c.SnapshotTimetables, c.SnapshotTimestamp,
		c.TimetablePurges, c.RouteExtensions,
		c.VehiclesAccepted, c.VehiclesRejected, c.VehiclesCurrent,
		c.FeedPolls, c.FeedPollErrors,
	)

	return c
}

func (c *Collector) BatchApplied(status model.TripStatus) {
	c.BatchesApplied.WithLabelValues(status.String()).Inc()
}

func (c *Collector) BatchRejected(status model.TripStatus, reason string) {
	c.BatchesRejected.WithLabelValues(status.String(), reason).Inc()
}

func (c *Collector) SnapshotCommitted(timetables int, at time.Time) {
	c.SnapshotsCommitted.Inc()
	c.SnapshotTimetables.Set(float64(timetables))
	c.SnapshotTimestamp.Set(float64(at.Unix()))
}

func (c *Collector) TimetablesPurged() {
	c.TimetablePurges.Inc()
}

func (c *Collector) RouteIndexExtended() {
	c.RouteExtensions.Inc()
}

func (c *Collector) VehiclesIndexed(accepted, rejected, total int) {
	c.VehiclesAccepted.Add(float64(accepted))
	c.VehiclesRejected.Add(float64(rejected))
	c.VehiclesCurrent.Set(float64(total))
}

func (c *Collector) FeedPolled(feed string, err error) {
	c.FeedPolls.WithLabelValues(feed).Inc()
	if err != nil {
		c.FeedPollErrors.WithLabelValues(feed).Inc()
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
