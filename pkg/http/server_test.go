package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openevse-mqtt-bridge/pkg/config"
	"openevse-mqtt-bridge/pkg/evse"
	"openevse-mqtt-bridge/pkg/health"
	"openevse-mqtt-bridge/pkg/metrics"
	"openevse-mqtt-bridge/pkg/rapi"
	"openevse-mqtt-bridge/pkg/recovery"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBroker bool

func (b fakeBroker) IsConnected() bool { return bool(b) }

type fakeBreaker recovery.CircuitState

func (b fakeBreaker) GetState() recovery.CircuitState { return recovery.CircuitState(b) }

type fakeController struct{}

func (fakeController) Snapshot() evse.Snapshot {
	return evse.Snapshot{Version: rapi.VersionInfo{Firmware: "7.1.3", Protocol: "5.0.1", Connected: true}}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthzReadyzMetrics(t *testing.T) {
	monitor := health.NewMonitor(time.Second)
	monitor.RecordSuccess()
	reg := metrics.NewRegistry()
	srv := NewServer(config.HTTPConfig{Addr: ":0"},
		NewHealthHandler(monitor, fakeBroker(true), nil, fakeController{}, "test"),
		metrics.Handler(reg))

	if rr := get(t, srv.Handler(), "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("/healthz code=%d", rr.Code)
	}
	if rr := get(t, srv.Handler(), "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("/readyz code=%d", rr.Code)
	}
	if rr := get(t, srv.Handler(), "/metrics"); rr.Code != http.StatusOK {
		t.Fatalf("/metrics code=%d", rr.Code)
	}

	rr := get(t, srv.Handler(), "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var hs HealthStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hs))
	assert.Equal(t, StatusHealthy, hs.Status)
	assert.Equal(t, "7.1.3", hs.Firmware)
	assert.Equal(t, "5.0.1", hs.Protocol)
	assert.Equal(t, "test", hs.Version)
	assert.True(t, hs.BrokerConnected)
}

func TestReadyzNotReady(t *testing.T) {
	monitor := health.NewMonitor(time.Second)
	srv := NewServer(config.HTTPConfig{Addr: ":0"}, NewHealthHandler(monitor, fakeBroker(false), nil, nil, ""), nil)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv.Handler(), "/readyz").Code)
	assert.Equal(t, http.StatusNotFound, get(t, srv.Handler(), "/metrics").Code)

	rr := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status": "unhealthy"`)
}

func TestHealthStatusLevels(t *testing.T) {
	tests := []struct {
		name      string
		offline   bool
		breaker   recovery.CircuitState
		successes int
		errors    int
		want      string
	}{
		{"healthy", false, recovery.StateClosed, 10, 0, StatusHealthy},
		{"low error rate", false, recovery.StateClosed, 9, 1, StatusHealthy},
		{"degraded by errors", false, recovery.StateClosed, 7, 3, StatusDegraded},
		{"unhealthy by errors", false, recovery.StateClosed, 4, 6, StatusUnhealthy},
		{"breaker open", false, recovery.StateOpen, 10, 0, StatusDegraded},
		{"offline", true, recovery.StateClosed, 10, 0, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := health.NewMonitor(time.Hour)
			for i := 0; i < tt.successes; i++ {
				monitor.RecordSuccess()
			}
			for i := 0; i < tt.errors; i++ {
				monitor.RecordError()
			}
			if tt.offline {
				monitor.MarkOffline()
			}

			hh := NewHealthHandler(monitor, nil, fakeBreaker(tt.breaker), nil, "")
			hs := hh.getHealthStatus()
			if hs.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, hs.Status)
			}
			assert.Equal(t, tt.breaker.String(), hs.CircuitBreaker)
		})
	}
}

func TestFormatting(t *testing.T) {
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "never", sinceString(now, time.Time{}))
	assert.Equal(t, "42 seconds ago", sinceString(now, now.Add(-42*time.Second)))
	assert.Equal(t, "5 minutes ago", sinceString(now, now.Add(-5*time.Minute)))
	assert.Equal(t, "3 hours ago", sinceString(now, now.Add(-3*time.Hour)))

	assert.Equal(t, "2 hours 5 minutes", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "1 days 2 hours", formatDuration(26*time.Hour))
}
