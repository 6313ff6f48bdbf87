package config_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/herald/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected config.LogLevel
	}{
		{"off", config.LogLevelOff},
		{"none", config.LogLevelOff},
		{"error", config.LogLevelError},
		{"debug", config.LogLevelDebug},
		{" DEBUG ", config.LogLevelDebug},
		{"verbose", config.LogLevelError},
		{"", config.LogLevelError},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, config.ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "off", config.LogLevelOff.String())
	assert.Equal(t, "error", config.LogLevelError.String())
	assert.Equal(t, "debug", config.LogLevelDebug.String())
	assert.Equal(t, "error", config.LogLevel(42).String())
}

func TestNewLogger_NoFile(t *testing.T) {
	t.Parallel()

	for _, level := range []config.LogLevel{config.LogLevelOff, config.LogLevelDebug} {
		path := ""
		if level == config.LogLevelOff {
			path = filepath.Join(t.TempDir(), "herald.log")
		}
		logger, err := config.NewLogger(level, path)
		require.NoError(t, err)
		logger.Error("dropped")
		assert.Empty(t, logger.Path())
		require.NoError(t, logger.Close())
		if path != "" {
			_, err = os.Stat(path)
			assert.True(t, os.IsNotExist(err), "no file for level off")
		}
	}
}

func TestNewLogger_CreatesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "herald.log")

	logger, err := config.NewLogger(config.LogLevelDebug, path)
	require.NoError(t, err)
	assert.Equal(t, path, logger.Path())

	logger.Debug("submitted %s", "contract.ethereum.internal.1")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	data := readLogFile(t, path)
	assert.Contains(t, string(data), "[DEBUG] submitted contract.ethereum.internal.1")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestNewLogger_InvalidPath(t *testing.T) {
	t.Parallel()
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := config.NewLogger(config.LogLevelError, filepath.Join(blocker, "herald.log"))
	require.Error(t, err)
}

func TestLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level     config.LogLevel
		wantDebug bool
		wantError bool
	}{
		{config.LogLevelOff, false, false},
		{config.LogLevelError, false, true},
		{config.LogLevelDebug, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			logger := config.NewWriterLogger(tt.level, &buf)

			logger.Debug("debug line")
			logger.Error("error line")

			assert.Equal(t, tt.wantDebug, strings.Contains(buf.String(), "debug line"))
			assert.Equal(t, tt.wantError, strings.Contains(buf.String(), "error line"))
		})
	}
}

func TestLogger_SetLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelError, &buf)
	child := logger.Component("watcher")

	child.Debug("hidden")
	logger.SetLevel(config.LogLevelDebug)
	assert.Equal(t, config.LogLevelDebug, child.Level())
	child.Debug("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[DEBUG] watcher: shown")
}

func TestLogger_Component(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelDebug, &buf)

	logger.Component("transaction").Component("dispatch").Error("failed: %v", "boom")
	logger.Error("root line")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "[ERROR] transaction.dispatch: failed: boom"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "[ERROR] root line"), lines[1])
}

func TestLogger_Writer(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelError, &buf)

	n, err := fmt.Fprintln(logger.Writer(config.LogLevelError), "  from writer  ")
	require.NoError(t, err)
	assert.Positive(t, n)
	_, _ = fmt.Fprintln(logger.Writer(config.LogLevelDebug), "filtered")

	assert.Contains(t, buf.String(), "[ERROR] from writer\n")
	assert.NotContains(t, buf.String(), "filtered")
}

func TestNullLogger(t *testing.T) {
	t.Parallel()
	logger := config.NullLogger()

	assert.Equal(t, config.LogLevelOff, logger.Level())
	logger.Error("nothing")
	logger.Component("x").Debug("nothing")
	require.NoError(t, logger.Close())
}

func TestLogger_Concurrent(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelDebug, &buf)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Component(fmt.Sprintf("worker%d", i)).Debug("line %d", i)
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 20)
}

func readLogFile(t *testing.T, path string) []byte {
	t.Helper()
	// #nosec G304 -- test file path
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
