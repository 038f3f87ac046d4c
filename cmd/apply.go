package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/transitrt/downloader"
	"tidbyt.dev/transitrt/model"
)

var applyCmd = &cobra.Command{
	Use:   "apply <feed>...",
	Short: "Applies GTFS-realtime trip update feeds and prints the result",
	Long:  "Applies trip update feeds, given as files or URLs, and prints the realtime timetables of the resulting snapshot",
	Args:  cobra.MinimumNArgs(1),
	RunE:  apply,
}

var (
	applyTripID string
	applyDate   string
	cachePath   string
	cacheTTL    time.Duration
)

func init() {
	applyCmd.Flags().StringVarP(&applyTripID, "trip", "t", "", "Print stop times of a single trip")
	applyCmd.Flags().StringVarP(&applyDate, "date", "d", "", "Service date (YYYYMMDD), defaults to today")
	applyCmd.Flags().StringVarP(&cachePath, "cache", "", "", "Cache downloaded feeds in this file")
	applyCmd.Flags().DurationVarP(&cacheTTL, "cache-ttl", "", time.Minute, "How long cached feeds stay fresh")
}

// Reads feeds from disk, or downloads them if given as URLs.
func readFeeds(ctx context.Context, sources []string) ([][]byte, error) {
	var dl downloader.Downloader = downloader.NewMemoryDownloader()
	if cachePath != "" {
		fs, err := downloader.NewFilesystem(cachePath)
		if err != nil {
			return nil, fmt.Errorf("creating feed cache: %w", err)
		}
		fs.Logger = logger.With("component", "downloader")
		dl = fs
	}

	feeds := make([][]byte, 0, len(sources))
	for _, src := range sources {
		var data []byte
		var err error
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			data, err = dl.Get(ctx, src, cfg.Realtime.Headers, downloader.GetOptions{
				MaxSize:  cfg.Realtime.MaxSize,
				Timeout:  cfg.Realtime.Timeout(),
				Cache:    cachePath != "",
				CacheTTL: cacheTTL,
			})
		} else {
			data, err = os.ReadFile(src)
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", src, err)
		}
		feeds = append(feeds, data)
	}

	return feeds, nil
}

func apply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	engine, err := LoadEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer engine.Close()

	date := model.NewServiceDate(time.Now().In(engine.Static.Location()))
	if applyDate != "" {
		date, err = model.ParseServiceDate(applyDate)
		if err != nil {
			return err
		}
	}

	feeds, err := readFeeds(ctx, args)
	if err != nil {
		return err
	}

	applied, err := engine.ApplyTripUpdates(ctx, feeds)
	if err != nil {
		return err
	}

	snapshot, err := engine.Commit(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("applied %d batches, %s\n", applied, snapshot)

	if applyTripID != "" {
		tt, pattern := engine.TripTimes(applyTripID, date)
		if tt == nil {
			return fmt.Errorf("trip %s not found on %s", applyTripID, date)
		}
		if tt.Canceled {
			fmt.Printf("%s canceled\n", applyTripID)
			return nil
		}
		for i, stopID := range pattern.Stops {
			fmt.Printf(
				"%s %s %s (%+ds)\n",
				stopID,
				formatTime(tt.Arrivals[i]),
				formatTime(tt.Departures[i]),
				tt.DepartureDelay(i),
			)
		}
		return nil
	}

	for _, pattern := range engine.Network.Patterns() {
		if !snapshot.HasRealtime(pattern, date) {
			continue
		}
		timetable := snapshot.Resolve(pattern, date)
		for _, tt := range timetable.Trips {
			if !tt.IsRealtime() {
				continue
			}
			status := fmt.Sprintf("%+ds", tt.DepartureDelay(0))
			if tt.Canceled {
				status = "canceled"
			}
			fmt.Printf("%s %s %s %s\n", pattern.RouteID, tt.TripID, formatTime(tt.Departures[0]), status)
		}
	}

	return nil
}

func formatTime(seconds int32) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}
