package monitor

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := NewMonitor("racebot")
	m.ObserveCommand("ping", false, time.Millisecond)
	m.ObserveCommand("ping", false, time.Millisecond)
	m.ObserveCommand("gamestart", true, time.Millisecond)
	m.ObserveClick("pk", false, time.Millisecond)
	m.IncFailures()
	m.IncBridges()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.Commands.WithLabelValues("ping", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.Commands.WithLabelValues("gamestart", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.Clicks.WithLabelValues("pk", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.Failures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.ConnectedBridges))
	assert.EqualValues(t, 4, m.Handled())
}

func TestHandler(t *testing.T) {
	m := NewMonitor("racebot")
	m.GaugeFunc("racebot", "open_sessions", "Open control surfaces", func() float64 { return 3 })
	// registering twice is a no-op
	m.GaugeFunc("racebot", "open_sessions", "Open control surfaces", func() float64 { return 4 })
	m.IncRoundEvent("round_created")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "racebot_open_sessions 3")
	assert.Contains(t, string(body), `racebot_round_events_total{kind="round_created"} 1`)
	assert.Contains(t, string(body), "racebot_uptime_seconds")
}
