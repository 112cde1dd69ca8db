// Package config provides configuration defaults and utilities
// for the sensorlog application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default server listen address.
	// Override via config: server.listen
	DefaultListenAddress = "0.0.0.0:9000"

	// DefaultMaxFrameSize limits the length of one request line, terminator
	// excluded. A well-formed LOG line is well under 100 bytes.
	// Override via config: server.max_frame_size
	DefaultMaxFrameSize = 4 * 1024
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is where sensor log files are created.
	// Override via config: storage.data_dir
	DefaultDataDir = "./data"

	// DefaultFileExtension is appended to the sensor id to form the file name.
	// Override via config: storage.file_extension
	DefaultFileExtension = ".dat"

	// DefaultReadMode bounds GET by the record count derived from the file size.
	// "sentinel" restores the legacy near-zero value heuristic.
	// Override via config: storage.read_mode
	DefaultReadMode = "bounded"

	// DefaultMaxGetCount caps the number of records a single GET may request.
	// Override via config: storage.max_get_count
	DefaultMaxGetCount = 100000
)

// =============================================================================
// Worker Pool Defaults
// =============================================================================

const (
	// DefaultPoolWorkers is the number of concurrent storage workers.
	// Each worker executes one file operation at a time.
	// Override via config: pool.workers
	DefaultPoolWorkers = 16

	// DefaultPoolQueueSize is the job queue capacity.
	// When full, sessions wait (backpressure).
	// Override via config: pool.queue_size
	DefaultPoolQueueSize = 1024

	// DefaultJobTimeout bounds a single storage operation.
	// Override via config: pool.job_timeout
	DefaultJobTimeout = 30 * time.Second
)

// =============================================================================
// Session Defaults
// =============================================================================

const (
	// DefaultIdleTimeout of zero means a silent connection waits indefinitely.
	// Override via config: session.idle_timeout
	DefaultIdleTimeout = time.Duration(0)

	// DefaultSessionCleanupIntervalSec is how often closed sessions are purged.
	// Override via config: session.cleanup_interval_sec
	DefaultSessionCleanupIntervalSec = 60
)

// =============================================================================
// Protocol Defaults
// =============================================================================

const (
	// DefaultTimezone is the location used to parse and format timestamps.
	// "Local" uses the host zone.
	// Override via config: protocol.timezone
	DefaultTimezone = "Local"

	// DefaultValuePrecision is the number of decimals in GET replies.
	// -1 selects the shortest exact form.
	// Override via config: protocol.value_precision
	DefaultValuePrecision = 6
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeoutSec is how long to wait for in-flight storage jobs
	// during shutdown. After this timeout, remaining jobs are abandoned.
	// Override via config: pool.drain_timeout_sec
	DefaultDrainTimeoutSec = 30
)

// =============================================================================
// Rate Limiting Defaults
// =============================================================================

const (
	// DefaultMalformedLimitPerMinute is the max malformed requests per IP per
	// minute before new connections from that IP are refused. Zero disables.
	// Override via config: server.malformed_limit_per_minute
	DefaultMalformedLimitPerMinute = 0
)

// =============================================================================
// Metrics Defaults
// =============================================================================

const (
	// DefaultMetricsPath is the HTTP path serving Prometheus metrics.
	// Metrics are only served when metrics.listen is set.
	DefaultMetricsPath = "/metrics"
)
