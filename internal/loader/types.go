// Package loader - Configuration Types
//
// Defines the YAML configuration structure for sensorlogd.
//
//	server:    listen address, frame limit, malformed request limiting
//	storage:   data directory, file naming, read mode
//	pool:      storage worker pool
//	session:   idle timeout, cleanup
//	protocol:  timestamp zone, value precision
//	metrics:   Prometheus endpoint
//	logging:   level, format
package loader

import (
	"strconv"
	"time"

	"github.com/xtxerr/sensorlog/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for sensorlogd.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Pool     PoolConfig     `yaml:"pool"`
	Session  SessionConfig  `yaml:"session"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the TCP listener.
type ServerConfig struct {
	// Listen is the TCP address to accept clients on.
	// Default: 0.0.0.0:9000
	Listen string `yaml:"listen"`

	// MaxFrameSize limits one request line in bytes.
	// Range: 64-1048576, Default: 4096
	MaxFrameSize int `yaml:"max_frame_size"`

	// MalformedLimitPerMinute refuses new connections from an address that
	// sent this many malformed requests within a minute. Zero disables.
	MalformedLimitPerMinute int `yaml:"malformed_limit_per_minute"`
}

// StorageConfig configures the sensor log files.
type StorageConfig struct {
	// DataDir holds one file per sensor.
	DataDir string `yaml:"data_dir"`

	// FileExtension is appended to the sensor id to form the file name.
	FileExtension string `yaml:"file_extension"`

	// ReadMode is "bounded" or "sentinel".
	ReadMode string `yaml:"read_mode"`

	// MaxGetCount caps the count a GET may request.
	MaxGetCount int `yaml:"max_get_count"`
}

// PoolConfig configures the storage worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent storage workers.
	// Range: 1-1024, Default: 16
	Workers int `yaml:"workers"`

	// QueueSize is the job queue capacity.
	// Default: 1024
	QueueSize int `yaml:"queue_size"`

	// JobTimeout bounds one storage operation.
	JobTimeout Duration `yaml:"job_timeout"`

	// DrainTimeoutSec is how long shutdown waits for queued jobs.
	// Range: 1-300, Default: 30
	DrainTimeoutSec int `yaml:"drain_timeout_sec"`
}

// SessionConfig configures client sessions.
type SessionConfig struct {
	// IdleTimeout closes a silent connection. Zero waits indefinitely.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// CleanupIntervalSec is how often closed sessions are purged.
	// Range: 1-300, Default: 60
	CleanupIntervalSec int `yaml:"cleanup_interval_sec"`
}

// ProtocolConfig configures the textual forms on the wire.
type ProtocolConfig struct {
	// Timezone is an IANA zone name, "Local" or "UTC".
	Timezone string `yaml:"timezone"`

	// ValuePrecision is the number of decimals in GET replies, or -1 for
	// the shortest exact form.
	ValuePrecision int `yaml:"value_precision"`

	// LegacyLogErrors makes a failed LOG reply ERROR|INVALID_SENSOR_ID,
	// for clients that only know that marker.
	LegacyLogErrors bool `yaml:"legacy_log_errors"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the HTTP address for metrics. Empty disables the endpoint.
	Listen string `yaml:"listen"`

	// Path is the HTTP path serving metrics.
	Path string `yaml:"path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// JSON selects the JSON handler instead of text.
	JSON bool `yaml:"json"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:                  config.DefaultListenAddress,
			MaxFrameSize:            config.DefaultMaxFrameSize,
			MalformedLimitPerMinute: config.DefaultMalformedLimitPerMinute,
		},

		Storage: StorageConfig{
			DataDir:       config.DefaultDataDir,
			FileExtension: config.DefaultFileExtension,
			ReadMode:      config.DefaultReadMode,
			MaxGetCount:   config.DefaultMaxGetCount,
		},

		Pool: PoolConfig{
			Workers:         config.DefaultPoolWorkers,
			QueueSize:       config.DefaultPoolQueueSize,
			JobTimeout:      Duration(config.DefaultJobTimeout),
			DrainTimeoutSec: config.DefaultDrainTimeoutSec,
		},

		Session: SessionConfig{
			IdleTimeout:        Duration(config.DefaultIdleTimeout),
			CleanupIntervalSec: config.DefaultSessionCleanupIntervalSec,
		},

		Protocol: ProtocolConfig{
			Timezone:       config.DefaultTimezone,
			ValuePrecision: config.DefaultValuePrecision,
		},

		Metrics: MetricsConfig{
			Path: config.DefaultMetricsPath,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Accepts "30s", "5m" or a plain integer of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
