// Package logging provides structured logging setup for quorumgate.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Options configures the logger.
type Options struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string
	// Output is the writer for log output (default: os.Stderr)
	Output io.Writer
	// Prefix is the component name prefix
	Prefix string
	// TimeFormat is the time format string (default: RFC3339)
	TimeFormat string
	// ReportCaller adds file:line to log entries
	ReportCaller bool
	// ReportTimestamp adds timestamps to log entries
	ReportTimestamp bool
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Level:           "info",
		Output:          os.Stderr,
		Prefix:          "",
		TimeFormat:      time.RFC3339,
		ReportCaller:    false,
		ReportTimestamp: true,
	}
}

// parseLevel converts a string level to log.Level.
func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// Init creates a new logger with the given options.
func Init(opts Options) *log.Logger {
	return log.NewWithOptions(opts.Output, log.Options{
		Level:           parseLevel(opts.Level),
		Prefix:          opts.Prefix,
		TimeFormat:      opts.TimeFormat,
		ReportCaller:    opts.ReportCaller,
		ReportTimestamp: opts.ReportTimestamp,
	})
}

// InitDefault creates a logger with default options, respecting the
// QGATE_LOG_LEVEL env override.
func InitDefault() *log.Logger {
	opts := DefaultOptions()
	if level := os.Getenv("QGATE_LOG_LEVEL"); level != "" {
		opts.Level = level
	}
	return Init(opts)
}

// InitFile creates a logger that appends to a file.
func InitFile(path string, opts Options) (*log.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, err
	}
	opts.Output = f
	return Init(opts), nil
}

// InitServer creates the logger for serve mode, writing to
// ~/.quorumgate/server.log.
func InitServer() (*log.Logger, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	opts := Options{
		Level:           "info",
		Prefix:          "server",
		TimeFormat:      time.RFC3339,
		ReportCaller:    true,
		ReportTimestamp: true,
	}
	if level := os.Getenv("QGATE_LOG_LEVEL"); level != "" {
		opts.Level = level
	}
	return InitFile(filepath.Join(home, ".quorumgate", "server.log"), opts)
}

// Global default logger instance
var defaultLogger = InitDefault()

// SetDefault replaces the global default logger.
func SetDefault(logger *log.Logger) {
	defaultLogger = logger
}

// Default returns the global default logger.
func Default() *log.Logger {
	return defaultLogger
}

// With returns a logger with additional default key-value pairs.
func With(keyvals ...interface{}) *log.Logger {
	return defaultLogger.With(keyvals...)
}

// WithPrefix returns a logger with the given prefix.
func WithPrefix(prefix string) *log.Logger {
	return defaultLogger.WithPrefix(prefix)
}
