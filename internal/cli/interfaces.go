package cli

import (
	"github.com/mrz1836/herald/internal/config"
	"github.com/mrz1836/herald/internal/output"
)

// Compile-time interface checks.
var (
	_ ConfigProvider = (*config.Config)(nil)
	_ LogWriter      = (*config.Logger)(nil)
	_ FormatProvider = (*output.Formatter)(nil)
)

// ConfigProvider provides read access to configuration values.
type ConfigProvider interface {
	// GetHome returns the herald home directory path.
	GetHome() string

	// KeystoreDir returns the keystore directory.
	KeystoreDir() string

	// HistoryPath returns the history database path.
	HistoryPath() string

	// GetLoggingLevel returns the configured logging level.
	GetLoggingLevel() string

	// GetLoggingFile returns the configured log file path.
	GetLoggingFile() string

	// GetOutputFormat returns the default output format.
	GetOutputFormat() string

	// IsVerbose returns true if verbose output is enabled.
	IsVerbose() bool
}

// LogWriter provides logging capabilities.
type LogWriter interface {
	// Debug logs a debug-level message.
	Debug(format string, args ...any)

	// Error logs an error-level message.
	Error(format string, args ...any)

	// Close closes the logger and releases resources.
	Close() error
}

// FormatProvider provides output format information.
type FormatProvider interface {
	// Format returns the current output format.
	Format() output.Format
}
