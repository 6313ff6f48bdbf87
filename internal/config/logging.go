package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel represents logging verbosity levels.
type LogLevel int

// Log level constants.
const (
	LogLevelOff LogLevel = iota
	LogLevelError
	LogLevelDebug
)

// ParseLogLevel parses a log level string. Unknown values map to error.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return LogLevelOff
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelError
	}
}

// String returns the string representation of a log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelOff:
		return "off"
	case LogLevelDebug:
		return "debug"
	case LogLevelError:
		return "error"
	default:
		return "error"
	}
}

// sink is the file shared by a logger and its component loggers.
type sink struct {
	mu    sync.Mutex
	level LogLevel
	out   io.WriteCloser
	now   func() time.Time
}

// Logger writes leveled lines to the herald log file. Loggers derived with
// Component share the file and level of their parent.
type Logger struct {
	sink      *sink
	component string
	path      string
}

// NewLogger opens (or creates) the log file at path. A level of off or an
// empty path yields a logger that writes nothing.
func NewLogger(level LogLevel, path string) (*Logger, error) {
	s := &sink{level: level, now: time.Now}
	logger := &Logger{sink: s}

	if level == LogLevelOff || path == "" {
		return logger, nil
	}

	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	// #nosec G304 -- log file path is from config
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.out = f
	logger.path = path

	return logger, nil
}

// NewWriterLogger logs to w instead of a file.
func NewWriterLogger(level LogLevel, w io.Writer) *Logger {
	return &Logger{sink: &sink{level: level, out: nopCloser{w}, now: time.Now}}
}

// NullLogger returns a logger that discards all output.
func NullLogger() *Logger {
	return &Logger{sink: &sink{level: LogLevelOff, now: time.Now}}
}

// Component returns a logger that tags every line with name.
func (l *Logger) Component(name string) *Logger {
	if l.component != "" {
		name = l.component + "." + name
	}
	return &Logger{sink: l.sink, component: name, path: l.path}
}

// Path returns the log file path, empty when not logging to a file.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.out == nil {
		return nil
	}
	err := l.sink.out.Close()
	l.sink.out = nil
	return err
}

// SetLevel changes the log level of the logger and all its components.
func (l *Logger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.log(LogLevelDebug, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log(LogLevelError, format, args...)
}

// Writer returns an io.Writer that logs each write at level.
func (l *Logger) Writer(level LogLevel) io.Writer {
	return &logWriter{logger: l, level: level}
}

func (l *Logger) log(level LogLevel, format string, args ...any) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.level == LogLevelOff || level > s.level || s.out == nil {
		return
	}

	var b strings.Builder
	b.WriteString(s.now().Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(level.String()))
	b.WriteString("] ")
	if l.component != "" {
		b.WriteString(l.component)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, format, args...)
	b.WriteByte('\n')

	_, _ = io.WriteString(s.out, b.String())
}

type logWriter struct {
	logger *Logger
	level  LogLevel
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.log(w.level, "%s", strings.TrimSpace(string(p)))
	return len(p), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
