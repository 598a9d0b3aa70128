package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCommand(t *testing.T) {
	m := New()

	m.ObserveCommand("initialize", "success", 120*time.Millisecond)
	m.ObserveCommand("initialize", "error", time.Millisecond)
	m.ObserveCommand("initialize", "success", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("initialize", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("initialize", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.commandDuration))
}

func TestSetSessionState(t *testing.T) {
	m := New()
	states := []string{"idle", "initializing", "active", "streaming"}

	m.SetSessionState("active", states)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionState.WithLabelValues("active")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionState.WithLabelValues("idle")))

	m.SetSessionState("idle", states)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionState.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionState.WithLabelValues("idle")))
}

func TestPermissionAndStreamCounters(t *testing.T) {
	m := New()

	m.ObservePermission(true)
	m.ObservePermission(false)
	m.ObservePermission(false)
	m.StreamStarted()
	m.ObserveRTMPEvent("rtmp_connected")
	m.SetBitrate(2500000)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.permissionResults.WithLabelValues("granted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.permissionResults.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rtmpEvents.WithLabelValues("rtmp_connected")))
	assert.Equal(t, 2500000.0, testutil.ToFloat64(m.streamBitrate))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCommand("dispose", "success", time.Millisecond)
	m.SetSessionState("idle", []string{"idle"})
	m.ObservePermission(true)
	m.StreamStarted()
	m.ObserveRTMPEvent("rtmp_failed")
	m.SetBitrate(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestHandler(t *testing.T) {
	m := New()
	m.StreamStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "camrtmp_streams_started_total 1"))
}
