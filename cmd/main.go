package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tidbyt.dev/transitrt"
	"tidbyt.dev/transitrt/config"
	"tidbyt.dev/transitrt/storage"
	"tidbyt.dev/transitrt/updater"
)

var rootCmd = &cobra.Command{
	Use:               "transitrt",
	Short:             "Realtime GTFS timetable tool",
	Long:              "Applies GTFS-realtime trip updates and vehicle positions on top of a static schedule",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath    string
	staticURL     string
	staticPath    string
	sharedHeaders []string

	cfg    *config.Config
	logger *slog.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&staticURL, "static-url", "", "", "GTFS Static URL")
	rootCmd.PersistentFlags().StringVarP(&staticPath, "static-path", "", "", "GTFS Static zip file")
	rootCmd.PersistentFlags().StringSliceVarP(
		&sharedHeaders,
		"header",
		"",
		[]string{},
		"GTFS HTTP header (shared between static and realtime)",
	)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(vehiclesCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	// Flags take precedence over both file and environment
	if staticURL != "" {
		os.Setenv(config.EnvStaticURL, staticURL)
	}
	if staticPath != "" {
		os.Setenv(config.EnvStaticPath, staticPath)
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	headers, err := parseHeaders(sharedHeaders)
	if err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}
	cfg.Static.Headers = mergeHeaders(cfg.Static.Headers, headers)
	cfg.Realtime.Headers = mergeHeaders(cfg.Realtime.Headers, headers)

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	return nil
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

func mergeHeaders(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = map[string]string{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func buildStorage(c config.StorageConfig) (storage.Storage, error) {
	switch c.Driver {
	case "sqlite":
		// DSN is a directory for on-disk databases
		if c.DSN == "" {
			return storage.NewSQLiteStorage()
		}
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: c.DSN})
	case "postgres":
		return storage.NewPSQLStorage(c.DSN, false)
	default:
		return storage.NewMemoryStorage(), nil
	}
}

func LoadStatic(ctx context.Context) (*transitrt.Static, error) {
	s, err := buildStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("creating storage: %w", err)
	}

	manager := transitrt.NewManager(s)
	manager.Logger = logger.With("component", "static")

	if cfg.Static.URL != "" {
		return manager.LoadStatic(ctx, cfg.Static.URL, cfg.Static.Headers)
	}
	return manager.LoadStaticFile(cfg.Static.Path)
}

func LoadEngine(ctx context.Context, metrics updater.Metrics) (*transitrt.Engine, error) {
	static, err := LoadStatic(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading static feed: %w", err)
	}

	engine, err := transitrt.NewEngine(static, transitrt.EngineOptions{
		TileZoom:        cfg.Vehicles.TileZoom,
		ReplaceVehicles: cfg.Vehicles.Replace,
		WriterQueueSize: cfg.Timetable.WriterQueueSize,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return nil, err
	}

	if freq := cfg.Timetable.MaxSnapshotFrequency(); freq > 0 {
		engine.Controller.MaxSnapshotFrequency = freq
	}
	if cfg.Timetable.LogFrequency > 0 {
		engine.Controller.LogFrequency = cfg.Timetable.LogFrequency
	}
	engine.Controller.PurgeExpiredData = *cfg.Timetable.PurgeExpiredData

	return engine, nil
}

func realtimeSource(name, url string) updater.FeedSource {
	return updater.FeedSource{
		Name:     name,
		URL:      url,
		Headers:  cfg.Realtime.Headers,
		Interval: cfg.Realtime.Interval(),
		Timeout:  cfg.Realtime.Timeout(),
		MaxSize:  cfg.Realtime.MaxSize,
	}
}
