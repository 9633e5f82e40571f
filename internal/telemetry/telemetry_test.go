package telemetry

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "warn", false)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Str("road", "fallback").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "fallback", entry["road"])
	assert.Equal(t, "shown", entry["message"])
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "loud", false)
	require.Error(t, err)
}

func TestNewLoggerPretty(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "", true)
	require.NoError(t, err)

	log.Info().Msg("session started")
	assert.Contains(t, buf.String(), "session started")
	assert.NotContains(t, buf.String(), "{")
}

func TestMetricsAreNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Step()
		m.Launch()
		m.NPCSpawned()
		m.NPCRemoved()
	})
}

func TestNewMetricsOnNoopMeter(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"), "s1")
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.Step()
		m.Contact()
		m.Explosion()
		m.Fallback()
		m.CoinCollected()
		m.NPCSpawned()
		m.NPCRemoved()
	})
	assert.NotNil(t, NopMetrics())
}
