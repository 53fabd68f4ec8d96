package builder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"openevse-mqtt-bridge/pkg/config"
	"openevse-mqtt-bridge/pkg/evse"
	"openevse-mqtt-bridge/pkg/gateway"
	"openevse-mqtt-bridge/pkg/health"
	bridgehttp "openevse-mqtt-bridge/pkg/http"
	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/metrics"
	"openevse-mqtt-bridge/pkg/mqtt"
	"openevse-mqtt-bridge/pkg/rapi"
	"openevse-mqtt-bridge/pkg/recovery"
	"openevse-mqtt-bridge/pkg/scheduler"
	"openevse-mqtt-bridge/pkg/services"
	"openevse-mqtt-bridge/pkg/store"
)

// PublisherInterface defines the contract for the Home Assistant publisher
// Enables mocking and testing
type PublisherInterface interface {
	mqtt.HAPublisher
	SetFirmware(version string)
}

// ApplicationBuilder provides a fluent interface for constructing Application instances
type ApplicationBuilder struct {
	config    *config.Config
	gateway   gateway.Gateway
	publisher PublisherInterface
	store     store.StateStore
	registry  *prometheus.Registry
	version   string
}

// NewApplicationBuilder creates a new builder for cfg
func NewApplicationBuilder(cfg *config.Config) *ApplicationBuilder {
	return &ApplicationBuilder{config: cfg}
}

// WithGateway sets a custom RAPI channel. No circuit breaker is added around it.
func (b *ApplicationBuilder) WithGateway(gw gateway.Gateway) *ApplicationBuilder {
	b.gateway = gw
	return b
}

// WithPublisher sets a custom publisher implementation
func (b *ApplicationBuilder) WithPublisher(pub PublisherInterface) *ApplicationBuilder {
	b.publisher = pub
	return b
}

// WithStore sets a custom state store
func (b *ApplicationBuilder) WithStore(st store.StateStore) *ApplicationBuilder {
	b.store = st
	return b
}

// WithRegistry sets the Prometheus registry
func (b *ApplicationBuilder) WithRegistry(reg *prometheus.Registry) *ApplicationBuilder {
	b.registry = reg
	return b
}

// WithVersion sets the version reported by /health
func (b *ApplicationBuilder) WithVersion(version string) *ApplicationBuilder {
	b.version = version
	return b
}

// Build constructs the Application with all dependencies.
// Default implementations are created for anything not provided.
func (b *ApplicationBuilder) Build(ctx context.Context) (*Application, error) {
	if b.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := b.config

	if b.registry == nil {
		b.registry = metrics.NewRegistry()
	}
	promMetrics := metrics.NewPrometheusMetrics(b.registry)

	mqttSettings := config.NewMQTTSettings(cfg)
	channelSettings := config.NewChannelSettings(cfg)
	pollingSettings := config.NewPollingSettings(cfg)
	device := config.NewDeviceSettings(cfg)

	app := &Application{
		config:   cfg,
		registry: b.registry,
	}

	if b.gateway == nil {
		cb := gateway.NewCircuitBreakerGateway(
			gateway.NewMQTTGateway(mqttSettings, channelSettings, promMetrics),
			recovery.CircuitBreakerConfig{
				MaxFailures:      cfg.CircuitBreaker.MaxFailures,
				Timeout:          time.Duration(cfg.CircuitBreaker.Timeout) * time.Second,
				HalfOpenMaxTries: cfg.CircuitBreaker.HalfOpenMaxCalls,
			},
		)
		app.breaker = cb
		b.gateway = cb
	}
	app.gateway = b.gateway

	app.client = rapi.NewClient(
		rapi.WithTimeout(channelSettings.CommandTimeout),
		rapi.WithLocation(cfg.Location()),
	)

	groups := make([]string, 0, len(pollingSettings.Groups))
	for name := range pollingSettings.Groups {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	executor, err := evse.NewExecutor(app.client, groups)
	if err != nil {
		return nil, fmt.Errorf("error creating executor: %w", err)
	}
	app.executor = executor
	b.registry.MustRegister(metrics.NewEVSECollector(executor, device.DeviceID, snapshotMaxAge(pollingSettings.Groups)))

	if b.publisher == nil {
		b.publisher = mqtt.NewPublisher(mqttSettings, config.NewHomeAssistantSettings(cfg), device, promMetrics)
	}
	app.publisher = b.publisher

	if b.store == nil {
		b.store = newStore(ctx, cfg.Redis)
	}
	app.store = b.store

	app.healthMonitor = health.NewMonitor(time.Duration(pollingSettings.ErrorGracePeriod) * time.Second)
	app.scheduler = scheduler.NewGroupScheduler(executor, pollingSettings.Groups)

	statePrefix := cfg.HomeAssistant.StatePrefix
	app.polling = services.NewPollingService(
		app.publisher,
		executor,
		app.healthMonitor,
		metrics.NewPerformanceTracker(time.Duration(pollingSettings.PerformanceSummaryInterval)*time.Second),
		promMetrics,
		app.store,
		device.DeviceID,
	)
	app.heartbeat = services.NewHeartbeatService(app.publisher, app.healthMonitor, app.client, config.NewHeartbeatSettings(cfg))
	app.events = services.NewEventService(app.client, app.gateway, app.publisher, promMetrics, statePrefix)
	app.control = services.NewControlService(app.client, app.publisher, statePrefix, cfg.EVSE.SaveCurrent)

	app.events.Trigger = app.scheduler.Trigger
	app.events.OnReconnect = app.onReconnect
	app.control.Trigger = app.scheduler.Trigger

	if cfg.HTTP.Enabled {
		var breaker bridgehttp.BreakerChecker
		if app.breaker != nil {
			breaker = app.breaker
		}
		handler := bridgehttp.NewHealthHandler(app.healthMonitor, app.publisher, breaker, executor, b.version)
		app.httpServer = bridgehttp.NewServer(cfg.HTTP, handler, metrics.Handler(b.registry))
	}

	return app, nil
}

// newStore connects to Redis when enabled. The bridge runs without the
// store rather than refusing to start.
func newStore(ctx context.Context, cfg config.RedisConfig) store.StateStore {
	if !cfg.Enabled {
		return store.NullStore{}
	}
	rs, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		logger.LogWarn("⚠️ Redis state store unavailable, continuing without it: %v", err)
		return store.NullStore{}
	}
	logger.LogInfo("🗄️ Redis state store connected: %s (db %d)", cfg.Addr, cfg.DB)
	return rs
}

// snapshotMaxAge is how stale scraped data may get: two slowest poll periods
func snapshotMaxAge(groups map[string]int) time.Duration {
	slowest := 0
	for _, ms := range groups {
		if ms > slowest {
			slowest = ms
		}
	}
	if slowest == 0 {
		return time.Minute
	}
	return 2 * time.Duration(slowest) * time.Millisecond
}
