// Package constants provides shared configuration values used across the dbgwatch application.
package constants

import "time"

// Configuration file defaults
const (
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "dbgwatch.yaml"

	// DefaultAPIHost is the default host for the status API server
	DefaultAPIHost = "127.0.0.1"

	// DefaultAPIPort is the default port for the status API server
	DefaultAPIPort = 5556
)

// Collector defaults
const (
	// DefaultCollectorPath is where the installer places the collector binary
	DefaultCollectorPath = "/usr/local/bin/dbgview"

	// DefaultLogFile is the fixed path the collector mirrors the kernel feed to
	DefaultLogFile = "/tmp/dbgview.log"

	// DefaultSettingsDir is the collector's own settings store, relative to
	// the user home directory. Created by the collector on start, removed
	// by session cleanup.
	DefaultSettingsDir = ".config/dbgview"

	// DefaultStartupTimeout is how long to wait for the collector to create
	// its log file before the start is declared failed
	DefaultStartupTimeout = 5 * time.Second

	// LogFileProbeInterval is how often the startup gate checks for the log file
	LogFileProbeInterval = 50 * time.Millisecond

	// DefaultStopTimeout is the grace period between SIGTERM and SIGKILL
	DefaultStopTimeout = 10 * time.Second
)

// Tailer configuration
const (
	// TailPollInterval is how long the tailer sleeps at end-of-file before
	// probing for newly appended data
	TailPollInterval = 200 * time.Millisecond

	// ReaderBufferSize is the initial buffer size for log line reading
	ReaderBufferSize = 64 * 1024 // 64KB

	// ReaderMaxLineSize is the maximum accepted log line length
	ReaderMaxLineSize = 1024 * 1024 // 1MB
)

// Filter configuration
const (
	// MaxPatternLength is the maximum allowed length for filter patterns
	// to prevent excessively complex patterns on a high-volume stream
	MaxPatternLength = 256
)
