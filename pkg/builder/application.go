package builder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"openevse-mqtt-bridge/pkg/config"
	"openevse-mqtt-bridge/pkg/evse"
	"openevse-mqtt-bridge/pkg/gateway"
	"openevse-mqtt-bridge/pkg/health"
	bridgehttp "openevse-mqtt-bridge/pkg/http"
	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/rapi"
	"openevse-mqtt-bridge/pkg/scheduler"
	"openevse-mqtt-bridge/pkg/services"
	"openevse-mqtt-bridge/pkg/store"
)

// DiagnosticConfigError is published when discovery cannot be announced
const DiagnosticConfigError = 1004

const defaultConnectRetry = 5 * time.Second

// Application owns every component of the running bridge
type Application struct {
	config        *config.Config
	registry      *prometheus.Registry
	gateway       gateway.Gateway
	breaker       *gateway.CircuitBreakerGateway
	client        *rapi.Client
	executor      *evse.Executor
	publisher     PublisherInterface
	store         store.StateStore
	healthMonitor *health.Monitor
	scheduler     *scheduler.GroupScheduler
	polling       *services.PollingService
	heartbeat     *services.HeartbeatService
	events        *services.EventService
	control       *services.ControlService
	httpServer    *bridgehttp.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start connects everything and launches the background loops. It returns
// once the controller answered $GV and the loops are running.
func (app *Application) Start(ctx context.Context) error {
	logger.LogInfo("🚀 Starting OpenEVSE MQTT Bridge...")

	if err := app.ConnectTransports(ctx); err != nil {
		return err
	}

	info, err := app.connectController(ctx)
	if err != nil {
		return fmt.Errorf("error connecting to EVSE: %w", err)
	}
	app.applyVersion(info)
	if app.config.EVSE.SyncTime {
		app.syncClock(ctx)
	}

	if err := app.publisher.PublishDiscovery(ctx, app.executor.Sensors()); err != nil {
		logger.LogError("⚠️ Error publishing discovery configs: %v", err)
		_ = app.publisher.PublishDiagnostic(ctx, DiagnosticConfigError, fmt.Sprintf("Discovery config error: %v", err))
	}

	if err := app.publisher.PublishStatusOnline(ctx); err != nil {
		logger.LogError("⚠️ Error publishing online status: %v", err)
	} else {
		_ = app.publisher.PublishDiagnostic(ctx, services.DiagnosticOK, "OpenEVSE bridge started successfully")
	}

	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	app.run(func() { app.scheduler.Start(runCtx, app.polling.HandleResult) })
	app.run(func() { app.heartbeat.Start(runCtx) })
	app.run(func() { app.events.Start(runCtx) })
	app.run(func() {
		if err := app.control.Start(runCtx); err != nil {
			logger.LogError("❌ Control service failed: %v", err)
		}
	})
	if app.httpServer != nil {
		app.run(func() {
			if err := app.httpServer.Start(runCtx); err != nil {
				logger.LogError("❌ HTTP server failed: %v", err)
			}
		})
	}

	logger.LogInfo("✅ OpenEVSE MQTT Bridge started (firmware %s, protocol %s, groups %v)",
		info.Firmware, info.Protocol, app.executor.Groups())
	return nil
}

func (app *Application) run(fn func()) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		fn()
	}()
}

// Stop halts the loops, reports offline and disconnects
func (app *Application) Stop() {
	logger.LogInfo("🛑 Stopping OpenEVSE MQTT Bridge...")

	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.publisher.PublishStatusOffline(ctx); err != nil {
		logger.LogError("⚠️ Error publishing offline status: %v", err)
	} else {
		_ = app.publisher.PublishDiagnostic(ctx, services.DiagnosticOK, "OpenEVSE bridge stopped gracefully")
	}

	app.DisconnectTransports()
	if err := app.store.Close(); err != nil {
		logger.LogWarn("⚠️ Error closing state store: %v", err)
	}

	logger.LogInfo("✅ OpenEVSE MQTT Bridge stopped")
}

// ConnectTransports connects the RAPI gateway and the publisher to the broker
func (app *Application) ConnectTransports(ctx context.Context) error {
	if err := app.gateway.Connect(ctx); err != nil {
		return fmt.Errorf("error connecting gateway: %w", err)
	}
	if err := app.publisher.Connect(ctx); err != nil {
		return fmt.Errorf("error connecting publisher: %w", err)
	}
	return nil
}

// DisconnectTransports closes both broker connections
func (app *Application) DisconnectTransports() {
	app.gateway.Disconnect()
	app.publisher.Disconnect()
}

// connectController retries version negotiation until it succeeds or ctx is done
func (app *Application) connectController(ctx context.Context) (rapi.VersionInfo, error) {
	retry := time.Duration(app.config.EVSE.ConnectRetry) * time.Millisecond
	if retry <= 0 {
		retry = defaultConnectRetry
	}

	for attempt := 1; ; attempt++ {
		info, err := app.client.Connect(ctx, app.gateway)
		if err == nil {
			logger.LogInfo("🔌 EVSE connected: firmware %s, RAPI %s", info.Firmware, info.Protocol)
			return info, nil
		}
		logger.LogWarn("⚠️ EVSE connect attempt %d failed: %v (retrying in %v)", attempt, err, retry)

		select {
		case <-ctx.Done():
			return info, ctx.Err()
		case <-time.After(retry):
		}
	}
}

func (app *Application) applyVersion(info rapi.VersionInfo) {
	app.executor.SetVersion(info)
	app.publisher.SetFirmware(info.Firmware)
}

// onReconnect runs after the controller rebooted and $GV was renegotiated
func (app *Application) onReconnect(ctx context.Context, info rapi.VersionInfo) {
	app.applyVersion(info)
	app.heartbeat.ResetSupervision()
	if app.config.EVSE.SyncTime {
		app.syncClock(ctx)
	}
	for _, group := range app.executor.Groups() {
		app.scheduler.Trigger(group)
	}
}

func (app *Application) syncClock(ctx context.Context) {
	now := time.Now()
	if err := app.client.SetTime(ctx, now); err != nil {
		logger.LogWarn("⚠️ Could not set EVSE clock: %v", err)
		return
	}
	logger.LogInfo("🕐 EVSE clock set to %s", now.In(app.client.Location()).Format("2006-01-02 15:04:05 MST"))
}

// DiagnosticMode checks broker connectivity, version negotiation and one
// poll of every group, logging the results
func (app *Application) DiagnosticMode(ctx context.Context) error {
	logger.LogInfo("🔍 Starting diagnostic mode...")

	logger.LogInfo("🔍 Test 1: MQTT Broker Connectivity")
	if !app.gateway.IsConnected() {
		logger.LogError("❌ Gateway is not connected to MQTT broker")
		return fmt.Errorf("gateway not connected to MQTT broker")
	}
	if !app.publisher.IsConnected() {
		logger.LogError("❌ Publisher is not connected to MQTT broker")
		return fmt.Errorf("publisher not connected to MQTT broker")
	}
	logger.LogInfo("✅ Gateway and publisher are connected to MQTT broker")

	logger.LogInfo("🔍 Test 2: RAPI version negotiation ($GV)")
	info, err := app.client.Connect(ctx, app.gateway)
	if err != nil {
		logger.LogError("❌ EVSE did not answer $GV: %v", err)
		logger.LogInfo("💡 Possible issues:")
		logger.LogInfo("   - OpenEVSE WiFi module is not connected to the broker")
		logger.LogInfo("   - Wrong base topic in configuration (%s)", app.config.EVSE.BaseTopic)
		logger.LogInfo("   - RAPI over MQTT is disabled on the WiFi module")
		return fmt.Errorf("version negotiation failed: %w", err)
	}
	app.applyVersion(info)
	logger.LogInfo("✅ EVSE firmware %s, RAPI protocol %s", info.Firmware, info.Protocol)

	logger.LogInfo("🔍 Test 3: Poll groups")
	results, err := app.executor.ExecuteAll(ctx)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, r := range results[name] {
			logger.LogInfo("📈 [%s] %s: %s %s", name, r.Name, r.State(), r.Unit)
		}
	}
	if err != nil {
		logger.LogError("❌ Some groups failed: %v", err)
		return fmt.Errorf("poll groups failed: %w", err)
	}

	if stored, err := app.store.Load(ctx, app.config.EVSE.DeviceID); err != nil {
		logger.LogWarn("⚠️ State store read failed: %v", err)
	} else if len(stored) > 0 {
		logger.LogInfo("🗄️ State store holds %d values (updated %s)", len(stored), stored["updated_at"])
	}

	logger.LogInfo("🎉 All diagnostic tests passed!")
	return nil
}

// GetConfig returns the application configuration
func (app *Application) GetConfig() *config.Config {
	return app.config
}

// GetClient returns the RAPI client
func (app *Application) GetClient() *rapi.Client {
	return app.client
}

// GetExecutor returns the poll group executor
func (app *Application) GetExecutor() *evse.Executor {
	return app.executor
}

// GetHealthMonitor returns the health monitor
func (app *Application) GetHealthMonitor() *health.Monitor {
	return app.healthMonitor
}

// GetScheduler returns the group scheduler
func (app *Application) GetScheduler() *scheduler.GroupScheduler {
	return app.scheduler
}

// GetRegistry returns the Prometheus registry
func (app *Application) GetRegistry() *prometheus.Registry {
	return app.registry
}
