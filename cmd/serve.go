package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/transitrt/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Polls realtime feeds and keeps timetables up to date",
	Long:  "Polls the configured trip update and vehicle position feeds until interrupted, exposing Prometheus metrics",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func serve(cmd *cobra.Command, args []string) error {
	if cfg.Realtime.TripUpdatesURL == "" && cfg.Realtime.VehiclePositionsURL == "" {
		return fmt.Errorf("no realtime feed configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()

	engine, err := LoadEngine(ctx, collector)
	if err != nil {
		return err
	}
	defer engine.Close()

	if cfg.Metrics.Addr != "" {
		srv := collector.Serve(cfg.Metrics.Addr, logger.With("component", "metrics"))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	var wg sync.WaitGroup

	if url := cfg.Realtime.TripUpdatesURL; url != "" {
		poller := engine.TripUpdatePoller(realtimeSource("trip_updates", url))
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}

	if url := cfg.Realtime.VehiclePositionsURL; url != "" {
		poller := engine.VehiclePoller(realtimeSource("vehicle_positions", url), cfg.Realtime.AgencyID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}

	logger.Info("serving", "timezone", engine.Static.Metadata.Timezone, "network", engine.Network.String())

	<-ctx.Done()
	wg.Wait()
	logger.Info("shutting down")

	return nil
}
