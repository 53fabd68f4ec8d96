package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"openevse-mqtt-bridge/pkg/config"
	"openevse-mqtt-bridge/pkg/health"
	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/mqtt"
	"openevse-mqtt-bridge/pkg/rapi"
)

// HeartbeatPublisher publishes the bridge heartbeat
type HeartbeatPublisher interface {
	mqtt.StatusPublisher
	mqtt.DiagnosticPublisher
}

// HeartbeatService keeps Home Assistant informed that the bridge is alive
// and, when configured, feeds the controller's heartbeat supervision
type HeartbeatService struct {
	publisher     HeartbeatPublisher
	healthMonitor *health.Monitor
	client        *rapi.Client
	settings      config.HeartbeatSettings
	supervising   atomic.Bool
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(
	publisher HeartbeatPublisher,
	healthMonitor *health.Monitor,
	client *rapi.Client,
	settings config.HeartbeatSettings,
) *HeartbeatService {
	return &HeartbeatService{
		publisher:     publisher,
		healthMonitor: healthMonitor,
		client:        client,
		settings:      settings,
	}
}

// PulseInterval is half the supervision interval, 0 when supervision is off
func (s *HeartbeatService) PulseInterval() time.Duration {
	if s.settings.RAPIInterval <= 0 {
		return 0
	}
	d := time.Duration(s.settings.RAPIInterval) * time.Second / 2
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Start begins the heartbeat loops
func (s *HeartbeatService) Start(ctx context.Context) {
	var statusC, pulseC <-chan time.Time

	if s.settings.StatusInterval > 0 {
		t := time.NewTicker(s.settings.StatusInterval)
		defer t.Stop()
		statusC = t.C
	}
	if d := s.PulseInterval(); d > 0 {
		s.Pulse(ctx)
		t := time.NewTicker(d)
		defer t.Stop()
		pulseC = t.C
	}

	logger.LogInfo("💓 Heartbeat service started (status: %v, RAPI pulse: %v)", s.settings.StatusInterval, s.PulseInterval())

	for {
		select {
		case <-ctx.Done():
			logger.LogDebug("🔇 Heartbeat service stopped")
			return
		case <-statusC:
			s.sendHeartbeat(ctx)
		case <-pulseC:
			s.Pulse(ctx)
		}
	}
}

// sendHeartbeat sends a status heartbeat if the EVSE is online
func (s *HeartbeatService) sendHeartbeat(ctx context.Context) {
	if !s.healthMonitor.IsOnline() {
		logger.LogDebug("💔 Skipping heartbeat - EVSE is offline")
		return
	}

	if err := s.publisher.PublishStatusOnline(ctx); err != nil {
		logger.LogError("⚠️ Heartbeat failed: %v", err)
		return
	}
	logger.LogDebug("💓 Heartbeat sent: online")

	if err := s.publisher.PublishDiagnostic(ctx, DiagnosticOK, "OpenEVSE bridge running"); err != nil {
		logger.LogDebug("⚠️ Diagnostic heartbeat failed: %v", err)
	}
}

// SendImmediateHeartbeat sends a heartbeat now (used at startup)
func (s *HeartbeatService) SendImmediateHeartbeat(ctx context.Context) {
	s.sendHeartbeat(ctx)
}

// Pulse configures supervision if needed, otherwise sends one pulse
func (s *HeartbeatService) Pulse(ctx context.Context) {
	if !s.supervising.Load() {
		hs, err := s.client.HeartbeatEnable(ctx, s.settings.RAPIInterval, s.settings.RAPICurrentLimit)
		if err != nil {
			logger.LogWarn("Heartbeat supervision setup failed: %v", err)
			return
		}
		s.supervising.Store(true)
		logger.LogInfo("💓 Heartbeat supervision enabled: %ds, limit %dA, state %s", hs.Interval, hs.CurrentLimit, hs.Triggered)
		return
	}

	err := s.client.HeartbeatPulse(ctx, s.settings.AckMissed)
	switch {
	case err == nil:
		logger.LogTrace("💓 RAPI heartbeat pulse sent")
	case errors.Is(err, rapi.ErrNK):
		logger.LogWarn("💔 Controller reports a missed heartbeat; current is limited to %dA", s.settings.RAPICurrentLimit)
	default:
		logger.LogWarn("Heartbeat pulse failed: %v", err)
	}
}

// ResetSupervision makes the next pulse re-enable supervision, e.g. after
// the controller rebooted
func (s *HeartbeatService) ResetSupervision() {
	s.supervising.Store(false)
}
