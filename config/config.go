package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StaticConfig locates the static GTFS schedule. Exactly one of URL
// and Path is expected.
type StaticConfig struct {
	URL     string            `yaml:"url" validate:"omitempty,url"`
	Path    string            `yaml:"path" validate:"required_without=URL"`
	Headers map[string]string `yaml:"headers"`
}

// StorageConfig selects where the static schedule is kept.
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"omitempty,oneof=memory sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

// RealtimeConfig contains GTFS-Realtime feed configuration
type RealtimeConfig struct {
	TripUpdatesURL      string            `yaml:"tripUpdatesURL" validate:"omitempty,url"`
	VehiclePositionsURL string            `yaml:"vehiclePositionsURL" validate:"omitempty,url"`
	Headers             map[string]string `yaml:"headers"`
	AgencyID            string            `yaml:"agencyID"`
	IntervalMS          int               `yaml:"intervalMS" validate:"gte=0"`
	TimeoutMS           int               `yaml:"timeoutMS" validate:"gte=0"`
	MaxSize             int               `yaml:"maxSize" validate:"gte=0"`
}

type TimetableConfig struct {
	MaxSnapshotFrequencyMS int   `yaml:"maxSnapshotFrequencyMS" validate:"gte=0"`
	PurgeExpiredData       *bool `yaml:"purgeExpiredData"`
	LogFrequency           int   `yaml:"logFrequency" validate:"gte=0"`
	WriterQueueSize        int   `yaml:"writerQueueSize" validate:"gte=0"`
}

type VehicleConfig struct {
	TileZoom int  `yaml:"tileZoom" validate:"gte=0,lte=22"`
	Replace  bool `yaml:"replace"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the root configuration structure
type Config struct {
	LogLevel  string          `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	Static    StaticConfig    `yaml:"static"`
	Storage   StorageConfig   `yaml:"storage"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Timetable TimetableConfig `yaml:"timetable"`
	Vehicles  VehicleConfig   `yaml:"vehicles"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Environment variables overriding file settings.
const (
	EnvLogLevel            = "TRANSITRT_LOG_LEVEL"
	EnvStaticURL           = "TRANSITRT_STATIC_URL"
	EnvStaticPath          = "TRANSITRT_STATIC_PATH"
	EnvStorageDriver       = "TRANSITRT_STORAGE_DRIVER"
	EnvStorageDSN          = "TRANSITRT_STORAGE_DSN"
	EnvTripUpdatesURL      = "TRANSITRT_TRIP_UPDATES_URL"
	EnvVehiclePositionsURL = "TRANSITRT_VEHICLE_POSITIONS_URL"
	EnvPollIntervalMS      = "TRANSITRT_POLL_INTERVAL_MS"
	EnvMetricsAddr         = "TRANSITRT_METRICS_ADDR"
)

// Loads configuration from a YAML file, then applies overrides from
// the environment and any .env file in the working directory. An
// empty path skips the file. The result is validated.
func Load(path string) (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	override(&c.LogLevel, EnvLogLevel)
	override(&c.Static.URL, EnvStaticURL)
	override(&c.Static.Path, EnvStaticPath)
	override(&c.Storage.Driver, EnvStorageDriver)
	override(&c.Storage.DSN, EnvStorageDSN)
	override(&c.Realtime.TripUpdatesURL, EnvTripUpdatesURL)
	override(&c.Realtime.VehiclePositionsURL, EnvVehiclePositionsURL)
	override(&c.Metrics.Addr, EnvMetricsAddr)

	if v := os.Getenv(EnvPollIntervalMS); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("invalid %s: %q", EnvPollIntervalMS, v)
		}
		c.Realtime.IntervalMS = ms
	}

	return nil
}

func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Timetable.PurgeExpiredData == nil {
		purge := true
		c.Timetable.PurgeExpiredData = &purge
	}
}

func (r RealtimeConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}

func (r RealtimeConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

func (t TimetableConfig) MaxSnapshotFrequency() time.Duration {
	return time.Duration(t.MaxSnapshotFrequencyMS) * time.Millisecond
}

func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
