package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel, format LogFormat) (*StructuredLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  level,
		Output: &buf,
		Format: format,
	})
	return logger, &buf
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"Warn", WARN, false},
		{"warning", WARN, false},
		{"error", ERROR, false},
		{"fatal", FATAL, false},
		{"verbose", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestParseLogFormat(t *testing.T) {
	got, err := ParseLogFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, got)

	got, err = ParseLogFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, got)

	_, err = ParseLogFormat("xml")
	assert.Error(t, err)
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(WARN, FormatText)

	logger.Debug("quiet")
	logger.Info("quiet")
	logger.Warn("loud")
	logger.Error("loud")

	output := buf.String()
	assert.NotContains(t, output, "quiet")
	assert.Equal(t, 2, strings.Count(output, "loud"))
}

func TestTextFormatIncludesFields(t *testing.T) {
	logger, buf := newBufferLogger(INFO, FormatText)

	logger.Info("upload completed", map[string]interface{}{"backend": "s3cdn"})

	output := buf.String()
	assert.Contains(t, output, "[INFO]")
	assert.Contains(t, output, "upload completed")
	assert.Contains(t, output, "backend=s3cdn")
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newBufferLogger(INFO, FormatJSON)

	logger.Info("upload completed", map[string]interface{}{"bytes": 1024})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "upload completed", entry.Message)
	assert.Equal(t, float64(1024), entry.Fields["bytes"])
}

func TestWithFieldIsImmutable(t *testing.T) {
	base, buf := newBufferLogger(INFO, FormatText)
	child := base.WithField("tenant", "tenant-1")

	base.Info("from base")
	assert.NotContains(t, buf.String(), "tenant-1")

	buf.Reset()
	child.Info("from child")
	assert.Contains(t, buf.String(), "tenant=tenant-1")
}

func TestWithComponent(t *testing.T) {
	logger, buf := newBufferLogger(INFO, FormatText)

	logger.WithComponent("router").Info("decision made")
	assert.Contains(t, buf.String(), "component=router")
}

func TestComponentLevelOverride(t *testing.T) {
	logger, buf := newBufferLogger(INFO, FormatText)
	logger.SetComponentLevel("cache", DEBUG)

	cacheLogger := logger.WithComponent("cache")
	routerLogger := logger.WithComponent("router")

	cacheLogger.Debug("cache detail")
	routerLogger.Debug("router detail")

	output := buf.String()
	assert.Contains(t, output, "cache detail", "cache component runs at DEBUG")
	assert.NotContains(t, output, "router detail", "other components keep the global level")
}

func TestSetLevel(t *testing.T) {
	logger, buf := newBufferLogger(ERROR, FormatText)

	logger.Info("hidden")
	logger.SetLevel(DEBUG)
	logger.Info("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
	assert.Equal(t, DEBUG, logger.GetLevel())
}

func TestFormattedVariants(t *testing.T) {
	logger, buf := newBufferLogger(INFO, FormatText)

	logger.Infof("processed %d of %d", 3, 10)
	assert.Contains(t, buf.String(), "processed 3 of 10")
}
