package services

import (
	"context"
	"time"

	bridgeerrors "openevse-mqtt-bridge/pkg/errors"
	"openevse-mqtt-bridge/pkg/evse"
	"openevse-mqtt-bridge/pkg/health"
	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/metrics"
	"openevse-mqtt-bridge/pkg/mqtt"
	"openevse-mqtt-bridge/pkg/rapi"
	"openevse-mqtt-bridge/pkg/scheduler"
	"openevse-mqtt-bridge/pkg/store"
)

// Codes published on the diagnostic topic by the services
const (
	DiagnosticOK          = 0
	DiagnosticEVSEOffline = 10
	DiagnosticEvent       = 11
)

// PollingPublisher is what the polling service needs from the publisher
type PollingPublisher interface {
	mqtt.SensorPublisher
	mqtt.StatusPublisher
	mqtt.DiagnosticPublisher
}

// SensorSource lists every sensor discovery should announce
type SensorSource interface {
	Sensors() []evse.Sensor
}

// PollingService consumes scheduler results: it tracks EVSE health,
// publishes readings and mirrors them into the state store
type PollingService struct {
	publisher     PollingPublisher
	sensors       SensorSource
	healthMonitor *health.Monitor
	performance   *metrics.PerformanceTracker
	metrics       metrics.MetricsCollector
	store         store.StateStore
	errorHandler  *bridgeerrors.ErrorHandler
	deviceID      string
}

// NewPollingService creates a new polling service; nil metrics and store are replaced by no-ops
func NewPollingService(
	publisher PollingPublisher,
	sensors SensorSource,
	healthMonitor *health.Monitor,
	performance *metrics.PerformanceTracker,
	m metrics.MetricsCollector,
	st store.StateStore,
	deviceID string,
) *PollingService {
	if m == nil {
		m = metrics.NewNullMetrics()
	}
	if st == nil {
		st = store.NullStore{}
	}
	return &PollingService{
		publisher:     publisher,
		sensors:       sensors,
		healthMonitor: healthMonitor,
		performance:   performance,
		metrics:       m,
		store:         st,
		errorHandler:  bridgeerrors.NewErrorHandler(publisher),
		deviceID:      deviceID,
	}
}

// HandleResult is the scheduler callback
func (s *PollingService) HandleResult(ctx context.Context, result scheduler.GroupResult) {
	if result.Err != nil {
		s.handleError(ctx, result)
	} else {
		s.handleSuccess(ctx, result)
	}
	s.performance.PrintSummaryIfNeeded()
}

func (s *PollingService) handleError(ctx context.Context, result scheduler.GroupResult) {
	s.metrics.IncrementPollErrors(result.Group)
	s.performance.RecordError(result.Group)

	// the controller answered, only this group is broken
	if code := rapi.CodeOf(result.Err); code != rapi.ResultFailure {
		s.errorHandler.Handle(ctx, bridgeerrors.NewRAPIError("poll "+result.Group, result.Err, s.deviceID, ""))
		return
	}

	if s.healthMonitor.IsOnline() {
		s.errorHandler.Handle(ctx, result.Err)
	} else {
		logger.LogDebug("Group '%s' failed while EVSE offline: %v", result.Group, result.Err)
	}
	s.recordLinkError(ctx)
}

func (s *PollingService) recordLinkError(ctx context.Context) {
	shouldMarkOffline := s.healthMonitor.RecordError()

	if s.healthMonitor.GetConsecutiveErrors() == 1 {
		logger.LogWarn("⚠️ First error detected, starting grace period")
	}
	if s.healthMonitor.IsInGracePeriod() {
		logger.LogDebug("🕐 Error %d in grace period - keeping status online", s.healthMonitor.GetConsecutiveErrors())
		return
	}

	if shouldMarkOffline && s.healthMonitor.IsOnline() {
		s.healthMonitor.MarkOffline()
		s.metrics.SetEVSEStatus(false)
		logger.LogError("🔴 Grace period expired - EVSE marked as OFFLINE after %d errors",
			s.healthMonitor.GetConsecutiveErrors())

		if err := s.publisher.PublishStatusOffline(ctx); err != nil {
			logger.LogError("⚠️ Error publishing offline status: %v", err)
		}
		if err := s.publisher.PublishDiagnostic(ctx, DiagnosticEVSEOffline, "EVSE not responding"); err != nil {
			logger.LogDebug("⚠️ Error publishing offline diagnostic: %v", err)
		}
	}
}

func (s *PollingService) handleSuccess(ctx context.Context, result scheduler.GroupResult) {
	s.metrics.IncrementPolls(result.Group)
	s.metrics.SetEVSEStatus(true)
	s.performance.RecordSuccess()

	if s.healthMonitor.RecordSuccess() {
		logger.LogInfo("🟢 EVSE marked as ONLINE - functionality restored")
		if err := s.publisher.PublishStatusOnline(ctx); err != nil {
			logger.LogError("⚠️ Error publishing online status: %v", err)
		}
		if err := s.publisher.PublishDiagnostic(ctx, DiagnosticOK, "Functionality restored - EVSE back online"); err != nil {
			logger.LogError("⚠️ Error publishing recovery diagnostic: %v", err)
		}
	}

	if s.publisher.DiscoveryDue() {
		if err := s.publisher.PublishDiscovery(ctx, s.sensors.Sensors()); err != nil {
			s.errorHandler.Handle(ctx, err)
		}
	}

	for _, r := range result.Readings {
		logger.LogTrace("📊 %s: %s %s", r.Key, r.State(), r.Unit)
	}
	if err := s.publisher.PublishReadings(ctx, result.Readings); err != nil {
		logger.LogError("⚠️ Error publishing group '%s': %v", result.Group, err)
	}

	saveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.store.Save(saveCtx, s.deviceID, result.Readings); err != nil {
		logger.LogWarn("State store write failed: %v", err)
	}
}
