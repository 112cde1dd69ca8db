// Package loader handles configuration file loading, validation, and
// conversion into the runtime configs of the store and server.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating every section
//   - Converting sections into store and server configs
package loader

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/metrics"
	"github.com/xtxerr/sensorlog/internal/server"
	"github.com/xtxerr/sensorlog/internal/store"
	"github.com/xtxerr/sensorlog/internal/wire"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. Keys absent from the file keep
// their defaults. ${VAR} references are expanded from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration on top of DefaultConfig.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// An empty document leaves the defaults in place.
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration and reports every problem at once.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	// Server
	if cfg.Server.Listen == "" {
		errs.AddMissing("server.listen")
	}
	if cfg.Server.MaxFrameSize < 64 || cfg.Server.MaxFrameSize > 1<<20 {
		errs.AddField("server.max_frame_size", "must be between 64 and 1048576")
	}
	if cfg.Server.MalformedLimitPerMinute < 0 {
		errs.AddField("server.malformed_limit_per_minute", "cannot be negative")
	}

	// Storage
	if cfg.Storage.DataDir == "" {
		errs.AddMissing("storage.data_dir")
	}
	if strings.ContainsAny(cfg.Storage.FileExtension, `/\`) {
		errs.AddField("storage.file_extension", "cannot contain path separators")
	}
	if _, err := store.ParseReadMode(cfg.Storage.ReadMode); err != nil {
		errs.AddField("storage.read_mode", "must be bounded or sentinel")
	}
	if cfg.Storage.MaxGetCount < 1 {
		errs.AddField("storage.max_get_count", "must be at least 1")
	}

	// Pool
	if cfg.Pool.Workers < 1 || cfg.Pool.Workers > 1024 {
		errs.AddField("pool.workers", "must be between 1 and 1024")
	}
	if cfg.Pool.QueueSize < 1 {
		errs.AddField("pool.queue_size", "must be at least 1")
	}
	if cfg.Pool.JobTimeout < 0 {
		errs.AddField("pool.job_timeout", "cannot be negative")
	}
	if cfg.Pool.DrainTimeoutSec < 1 || cfg.Pool.DrainTimeoutSec > 300 {
		errs.AddField("pool.drain_timeout_sec", "must be between 1 and 300")
	}

	// Session
	if cfg.Session.IdleTimeout < 0 {
		errs.AddField("session.idle_timeout", "cannot be negative")
	}
	if cfg.Session.CleanupIntervalSec < 1 || cfg.Session.CleanupIntervalSec > 300 {
		errs.AddField("session.cleanup_interval_sec", "must be between 1 and 300")
	}

	// Protocol
	if _, err := cfg.Location(); err != nil {
		errs.AddField("protocol.timezone", err.Error())
	}
	if cfg.Protocol.ValuePrecision < -1 || cfg.Protocol.ValuePrecision > 17 {
		errs.AddField("protocol.value_precision", "must be between -1 and 17")
	}

	// Metrics
	if cfg.Metrics.Listen != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs.AddField("metrics.path", "must start with /")
	}

	// Logging
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.AddField("logging.level", "must be debug, info, warn or error")
	}

	return errs.Err()
}

// Location resolves protocol.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Protocol.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Protocol.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q", c.Protocol.Timezone)
	}
	return loc, nil
}

// =============================================================================
// Conversion
// =============================================================================

// ToStoreConfig converts the storage section to a store config.
func ToStoreConfig(cfg *Config) store.Config {
	return store.Config{
		Dir:       cfg.Storage.DataDir,
		Extension: cfg.Storage.FileExtension,
		ReadMode:  store.ReadMode(cfg.Storage.ReadMode),
	}
}

// ToFormat converts the protocol section to a wire format.
func ToFormat(cfg *Config) (wire.Format, error) {
	loc, err := cfg.Location()
	if err != nil {
		return wire.Format{}, err
	}
	return wire.Format{Location: loc, Precision: cfg.Protocol.ValuePrecision}, nil
}

// ToServerConfig converts the configuration to a server config bound to st.
// m may be nil.
func ToServerConfig(cfg *Config, st *store.Store, m *metrics.Metrics) (*server.Config, error) {
	format, err := ToFormat(cfg)
	if err != nil {
		return nil, err
	}

	return &server.Config{
		Store:  st,
		Listen: cfg.Server.Listen,

		Format:       format,
		MaxFrameSize: cfg.Server.MaxFrameSize,
		MaxGetCount:  cfg.Storage.MaxGetCount,

		LegacyLogErrors: cfg.Protocol.LegacyLogErrors,

		IdleTimeout:     cfg.Session.IdleTimeout.Duration(),
		CleanupInterval: time.Duration(cfg.Session.CleanupIntervalSec) * time.Second,

		PoolWorkers:   cfg.Pool.Workers,
		PoolQueueSize: cfg.Pool.QueueSize,
		JobTimeout:    cfg.Pool.JobTimeout.Duration(),
		DrainTimeout:  time.Duration(cfg.Pool.DrainTimeoutSec) * time.Second,

		MalformedLimit:  cfg.Server.MalformedLimitPerMinute,
		MalformedWindow: time.Minute,

		Metrics: m,
	}, nil
}
