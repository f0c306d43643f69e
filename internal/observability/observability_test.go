package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Info("partition published", "stage", "silver", "year", 2023)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "partition published", entry["msg"])
	assert.Equal(t, "silver", entry["stage"])
	assert.Equal(t, float64(2023), entry["year"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "text")

	logger.Debug("value coerced to null", "field", "temperature_c")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "field=temperature_c")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestNewMetricsForTesting(t *testing.T) {
	m := NewMetricsForTesting()
	other := NewMetricsForTesting()

	m.Partitions.WithLabelValues("silver", "success").Inc()
	m.CoercionNulls.WithLabelValues("temperature_c", "sentinel").Add(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Partitions.WithLabelValues("silver", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CoercionNulls.WithLabelValues("temperature_c", "sentinel")))
	assert.Equal(t, 0.0, testutil.ToFloat64(other.Partitions.WithLabelValues("silver", "success")))
}
