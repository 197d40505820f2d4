package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"Warning", LevelWarn},
		{"error", LevelError},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLogLevel(tt.input))
		})
	}
}

func TestDefaultLogger_FiltersByLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelWarn, buf)

	logger.Debug("probe table built")
	logger.Info("analyzed %d units", 3)
	logger.Warn("unit %s skipped", "com/example/Broken")
	logger.Error("report failed")

	out := buf.String()
	assert.NotContains(t, out, "probe table built")
	assert.NotContains(t, out, "analyzed 3 units")
	assert.Contains(t, out, "[WARN] unit com/example/Broken skipped")
	assert.Contains(t, out, "[ERROR] report failed")
}

func TestDefaultLogger_MessageWithoutArgsKeepsPercent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)

	// Called through a func value so vet does not treat the literal as a format.
	info := logger.Info
	info("100% covered")
	assert.Contains(t, buf.String(), "100% covered")
}

func TestDefaultLogger_WithFieldsSorted(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf).
		WithField("session", "TestA").
		WithFields(map[string]interface{}{"file": "Foo.java"})

	logger.Info("written")

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "file=Foo.java session=TestA written")
}

func TestDefaultLogger_SetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelError, buf)
	logger.Info("hidden")
	logger.SetLevel(LevelDebug)
	logger.Debug("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "convert.log")
	logger, err := NewFileLogger(LevelInfo, path)
	require.NoError(t, err)

	logger.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestGlobalLogger(t *testing.T) {
	orig := GetGlobalLogger()
	defer SetGlobalLogger(orig)

	null := &NullLogger{}
	SetGlobalLogger(null)
	assert.Same(t, null, GetGlobalLogger())
	assert.Same(t, null, OrGlobal(nil))

	own := NewDefaultLogger(LevelInfo, nil)
	assert.Same(t, own, OrGlobal(own))
}

func TestNullLogger(t *testing.T) {
	logger := &NullLogger{}
	logger.Info("nothing")
	assert.Same(t, logger, logger.WithField("k", "v"))
	assert.Same(t, logger, logger.WithFields(nil))
}
