package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/flashsync/internal/controller"
	"github.com/dreamware/flashsync/internal/rpc"
)

// config holds the controller's settings. Values come from defaults, then
// the YAML file named by FLASHSYNC_CONFIG, then FLASHSYNC_* variables.
type config struct {
	GRPCAddr       string        `yaml:"grpc_addr"`
	HTTPAddr       string        `yaml:"http_addr"` // empty disables the HTTP surface
	LogLevel       string        `yaml:"log_level"`
	MaxInFlight    int64         `yaml:"max_in_flight"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
	WatchInterval  time.Duration `yaml:"watch_interval"`
	LogDevelopment bool          `yaml:"log_development"`
}

func defaultConfig() config {
	return config{
		GRPCAddr:       fmt.Sprintf("[::]:%d", rpc.DefaultPort),
		HTTPAddr:       ":8099",
		LogLevel:       "info",
		MaxInFlight:    controller.DefaultMaxInFlight,
		StallThreshold: 30 * time.Second,
		WatchInterval:  5 * time.Second,
	}
}

// loadConfig builds the effective config. path may be empty.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.GRPCAddr = getenv("FLASHSYNC_GRPC_ADDR", cfg.GRPCAddr)
	cfg.HTTPAddr = getenv("FLASHSYNC_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getenv("FLASHSYNC_LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv("FLASHSYNC_MAX_IN_FLIGHT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return config{}, fmt.Errorf("FLASHSYNC_MAX_IN_FLIGHT: %w", err)
		}
		cfg.MaxInFlight = n
	}
	if v := os.Getenv("FLASHSYNC_STALL_THRESHOLD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return config{}, fmt.Errorf("FLASHSYNC_STALL_THRESHOLD: %w", err)
		}
		cfg.StallThreshold = d
	}
	if v := os.Getenv("FLASHSYNC_WATCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return config{}, fmt.Errorf("FLASHSYNC_WATCH_INTERVAL: %w", err)
		}
		cfg.WatchInterval = d
	}
	if v := os.Getenv("FLASHSYNC_LOG_DEVELOPMENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return config{}, fmt.Errorf("FLASHSYNC_LOG_DEVELOPMENT: %w", err)
		}
		cfg.LogDevelopment = b
	}

	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc_addr must be set"))
	}
	if c.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("max_in_flight must not be negative, got %d", c.MaxInFlight))
	}
	if c.StallThreshold <= 0 {
		errs = append(errs, fmt.Errorf("stall_threshold must be positive, got %s", c.StallThreshold))
	}
	if c.WatchInterval <= 0 {
		errs = append(errs, fmt.Errorf("watch_interval must be positive, got %s", c.WatchInterval))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// newLogger builds the process logger described by c.
func newLogger(c config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
