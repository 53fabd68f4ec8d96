package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"openevse-mqtt-bridge/pkg/evse"
	"openevse-mqtt-bridge/pkg/recovery"
)

// Overall health values reported by /health
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status             string    `json:"status"`
	Timestamp          time.Time `json:"timestamp"`
	Uptime             string    `json:"uptime"`
	EVSEOnline         bool      `json:"evse_online"`
	BrokerConnected    bool      `json:"broker_connected"`
	CircuitBreaker     string    `json:"circuit_breaker,omitempty"`
	Firmware           string    `json:"firmware,omitempty"`
	Protocol           string    `json:"protocol,omitempty"`
	LastSuccessfulPoll string    `json:"last_successful_poll"`
	ErrorCount         int       `json:"error_count"`
	SuccessCount       int       `json:"success_count"`
	Version            string    `json:"version,omitempty"`
}

// HealthChecker provides EVSE link health (health.Monitor)
type HealthChecker interface {
	IsOnline() bool
	GetLastSuccessTime() time.Time
	GetErrorCount() int
	GetSuccessCount() int
}

// ConnectionChecker reports broker connectivity
type ConnectionChecker interface {
	IsConnected() bool
}

// BreakerChecker reports the command channel circuit breaker state
type BreakerChecker interface {
	GetState() recovery.CircuitState
}

// SnapshotSource provides the latest controller state (evse.Executor)
type SnapshotSource interface {
	Snapshot() evse.Snapshot
}

// HealthHandler serves /health
type HealthHandler struct {
	startTime     time.Time
	healthChecker HealthChecker
	broker        ConnectionChecker
	breaker       BreakerChecker
	controller    SnapshotSource
	version       string
	now           func() time.Time
}

// NewHealthHandler creates a new health check handler. broker, breaker and
// controller are optional.
func NewHealthHandler(healthChecker HealthChecker, broker ConnectionChecker, breaker BreakerChecker, controller SnapshotSource, version string) *HealthHandler {
	return &HealthHandler{
		startTime:     time.Now(),
		healthChecker: healthChecker,
		broker:        broker,
		breaker:       breaker,
		controller:    controller,
		version:       version,
		now:           time.Now,
	}
}

// Handle is the gin handler for /health
func (hh *HealthHandler) Handle(c *gin.Context) {
	status := hh.getHealthStatus()

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.IndentedJSON(code, status)
}

// Ready reports whether the bridge can serve commands
func (hh *HealthHandler) Ready() bool {
	if hh.broker != nil && !hh.broker.IsConnected() {
		return false
	}
	return hh.healthChecker.IsOnline()
}

// getHealthStatus determines current health status
func (hh *HealthHandler) getHealthStatus() HealthStatus {
	now := hh.now()

	isOnline := hh.healthChecker.IsOnline()
	errorCount := hh.healthChecker.GetErrorCount()
	successCount := hh.healthChecker.GetSuccessCount()

	brokerConnected := true
	if hh.broker != nil {
		brokerConnected = hh.broker.IsConnected()
	}

	status := StatusHealthy
	switch {
	case !isOnline || !brokerConnected:
		status = StatusUnhealthy
	case hh.breaker != nil && hh.breaker.GetState() == recovery.StateOpen:
		status = StatusDegraded
	case errorCount > 0:
		errorRate := float64(errorCount) / float64(errorCount+successCount) * 100.0
		if errorRate > 50.0 {
			status = StatusUnhealthy
		} else if errorRate > 20.0 {
			status = StatusDegraded
		}
	}

	hs := HealthStatus{
		Status:             status,
		Timestamp:          now,
		Uptime:             formatDuration(now.Sub(hh.startTime)),
		EVSEOnline:         isOnline,
		BrokerConnected:    brokerConnected,
		LastSuccessfulPoll: sinceString(now, hh.healthChecker.GetLastSuccessTime()),
		ErrorCount:         errorCount,
		SuccessCount:       successCount,
		Version:            hh.version,
	}
	if hh.breaker != nil {
		hs.CircuitBreaker = hh.breaker.GetState().String()
	}
	if hh.controller != nil {
		v := hh.controller.Snapshot().Version
		hs.Firmware = v.Firmware
		hs.Protocol = v.Protocol
	}
	return hs
}

func sinceString(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	}
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours %d minutes", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%d days %d hours", int(d.Hours())/24, int(d.Hours())%24)
	}
}
