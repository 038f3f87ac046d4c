package updater

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tidbyt.dev/transitrt/downloader"
	"tidbyt.dev/transitrt/parse"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultFeedTimeout  = 15 * time.Second
	DefaultFeedMaxSize  = 50 * 1024 * 1024
)

// Where and how to fetch a realtime feed.
type FeedSource struct {
	Name       string
	URL        string
	Headers    map[string]string
	Interval   time.Duration
	Timeout    time.Duration
	MaxSize    int
	// Plain HTTP when nil.
	Downloader downloader.Downloader
}

func (s *FeedSource) interval() time.Duration {
	if s.Interval <= 0 {
		return DefaultPollInterval
	}
	return s.Interval
}

func (s *FeedSource) fetch(ctx context.Context) ([]byte, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultFeedTimeout
	}
	maxSize := s.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultFeedMaxSize
	}

	opts := downloader.GetOptions{
		MaxSize: maxSize,
		Timeout: timeout,
	}

	var data []byte
	var err error
	if s.Downloader != nil {
		data, err = s.Downloader.Get(ctx, s.URL, s.Headers, opts)
	} else {
		data, err = downloader.HTTPGet(ctx, s.URL, s.Headers, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", s.URL, err)
	}

	return data, nil
}

// Polls until ctx is done. Polls once immediately.
func runPoller(ctx context.Context, source *FeedSource, logger *slog.Logger, metrics Metrics, poll func(context.Context) error) {
	pollAndRecord := func() {
		err := poll(ctx)
		metrics.FeedPolled(source.Name, err)
		if err != nil && ctx.Err() == nil {
			logger.Warn("polling feed failed", "feed", source.Name, "error", err)
		}
	}

	pollAndRecord()

	ticker := time.NewTicker(source.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pollAndRecord()
		case <-ctx.Done():
			logger.Info("poller stopped", "feed", source.Name)
			return
		}
	}
}

// TripUpdatePoller periodically downloads a GTFS-realtime trip update
// feed and applies it through the writer.
type TripUpdatePoller struct {
	Source   FeedSource
	Location *time.Location
	Logger   *slog.Logger
	Metrics  Metrics

	writer     *Writer
	controller *Controller

	lastTimestamp time.Time
}

func NewTripUpdatePoller(source FeedSource, location *time.Location, writer *Writer, controller *Controller) *TripUpdatePoller {
	if source.Name == "" {
		source.Name = "trip_updates"
	}
	return &TripUpdatePoller{
		Source:     source,
		Location:   location,
		Logger:     slog.Default().With("component", "poller", "feed", source.Name),
		Metrics:    NopMetrics,
		writer:     writer,
		controller: controller,
	}
}

func (p *TripUpdatePoller) Run(ctx context.Context) {
	runPoller(ctx, &p.Source, p.Logger, p.Metrics, p.Poll)
}

// Fetches and applies the feed once. A feed whose timestamp isn't
// newer than the last one applied is skipped.
func (p *TripUpdatePoller) Poll(ctx context.Context) error {
	data, err := p.Source.fetch(ctx)
	if err != nil {
		return err
	}

	feed, err := parse.ParseTripUpdates(ctx, [][]byte{data}, p.Location)
	if err != nil {
		return fmt.Errorf("parsing trip updates: %w", err)
	}

	if !feed.Timestamp.After(p.lastTimestamp) {
		p.Logger.Debug("feed not updated", "timestamp", feed.Timestamp)
		return nil
	}

	applied := 0
	err = p.writer.Execute(ctx, func() error {
		applied = p.controller.ApplyBatches(feed.Batches)
		return nil
	})
	if err != nil {
		return fmt.Errorf("applying trip updates: %w", err)
	}

	p.lastTimestamp = feed.Timestamp
	p.Logger.Debug(
		"applied feed",
		"timestamp", feed.Timestamp,
		"batches", len(feed.Batches),
		"applied", applied,
		"unscheduled", feed.NumUnscheduledTrips,
		"duplicated", feed.NumDuplicatedTrips,
		"missing_trip_id", feed.NumMissingTripID,
	)

	return nil
}

// VehiclePoller periodically downloads a GTFS-realtime vehicle
// position feed and indexes it through the feeder.
type VehiclePoller struct {
	Source   FeedSource
	AgencyID string
	Logger   *slog.Logger
	Metrics  Metrics

	feeder *VehicleFeeder

	lastTimestamp time.Time
}

func NewVehiclePoller(source FeedSource, agencyID string, feeder *VehicleFeeder) *VehiclePoller {
	if source.Name == "" {
		source.Name = "vehicle_positions"
	}
	return &VehiclePoller{
		Source:   source,
		AgencyID: agencyID,
		Logger:   slog.Default().With("component", "poller", "feed", source.Name),
		Metrics:  NopMetrics,
		feeder:   feeder,
	}
}

func (p *VehiclePoller) Run(ctx context.Context) {
	runPoller(ctx, &p.Source, p.Logger, p.Metrics, p.Poll)
}

func (p *VehiclePoller) Poll(ctx context.Context) error {
	data, err := p.Source.fetch(ctx)
	if err != nil {
		return err
	}

	feed, err := parse.ParseVehiclePositions(ctx, [][]byte{data}, p.AgencyID)
	if err != nil {
		return fmt.Errorf("parsing vehicle positions: %w", err)
	}

	if !feed.Timestamp.After(p.lastTimestamp) {
		p.Logger.Debug("feed not updated", "timestamp", feed.Timestamp)
		return nil
	}

	accepted := p.feeder.Feed(feed.Locations)
	p.lastTimestamp = feed.Timestamp

	p.Logger.Debug(
		"indexed vehicles",
		"timestamp", feed.Timestamp,
		"locations", len(feed.Locations),
		"accepted", accepted,
		"missing_position", feed.NumMissingPosition,
	)

	return nil
}
