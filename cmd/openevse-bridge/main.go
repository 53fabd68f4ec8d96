package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openevse-mqtt-bridge/pkg/builder"
	"openevse-mqtt-bridge/pkg/config"
	"openevse-mqtt-bridge/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (searches default locations when empty)")
	diagnosticMode := flag.Bool("diagnostic", false, "Run diagnostic mode to test connectivity")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config path] [-diagnostic]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.LogStartup("Configuration error: %v", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&cfg.Logging)
	defer func() { _ = log.Sync() }()
	logger.LogStartup("OpenEVSE MQTT Bridge %s, logging at level %s", version, cfg.Logging.Level)

	app, err := builder.NewApplicationBuilder(cfg).WithVersion(version).Build(ctx)
	if err != nil {
		logger.LogError("Application creation error: %v", err)
		os.Exit(1)
	}

	if *diagnosticMode {
		os.Exit(runDiagnostic(ctx, app))
	}

	if err := app.Start(ctx); err != nil {
		logger.LogError("Application start error: %v", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.LogInfo("📢 Stop signal received...")
	app.Stop()
}

func runDiagnostic(ctx context.Context, app *builder.Application) int {
	logger.LogInfo("🔍 Running diagnostic mode...")

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	if err := app.ConnectTransports(ctx); err != nil {
		logger.LogError("Connection error: %v", err)
		return 1
	}
	defer app.DisconnectTransports()

	if err := app.DiagnosticMode(ctx); err != nil {
		logger.LogError("Diagnostic failed: %v", err)
		return 1
	}
	logger.LogInfo("✅ Diagnostic completed successfully")
	return 0
}
