package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ergochat/readline"
	"github.com/google/uuid"

	"openevse-mqtt-bridge/pkg/config"
	"openevse-mqtt-bridge/pkg/gateway"
	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/metrics"
	"openevse-mqtt-bridge/pkg/rapi"
)

const historySize = 500

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.Logging.Level = logger.LogLevelWarn
	logger.NewLogger(&cfg.Logging)

	session := uuid.NewString()[:8]
	mqttSettings := config.NewMQTTSettings(cfg)
	mqttSettings.ClientID = "rapi-console-" + session

	gw := gateway.NewMQTTGateway(mqttSettings, config.NewChannelSettings(cfg), metrics.NewNullMetrics())
	if err := gw.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error connecting to %s: %v\n", mqttSettings.BrokerURL(), err)
		os.Exit(1)
	}
	defer gw.Disconnect()

	client := rapi.NewClient(
		rapi.WithTimeout(config.NewChannelSettings(cfg).CommandTimeout),
		rapi.WithLocation(cfg.Location()),
	)
	info, err := client.Connect(ctx, gw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️ $GV failed, raw commands still work: %v\n", err)
	} else {
		fmt.Printf("🔌 %s: firmware %s, protocol %s\n", cfg.EVSE.BaseTopic, info.Firmware, info.Protocol)
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:                 "rapi> ",
		HistoryFile:            historyPath(),
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error starting line editor: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	console := NewConsole(client, rl.Stdout())
	console.WatchEvents()
	fmt.Fprintf(rl.Stdout(), "Session %s. Type help for commands.\n", session)

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_ = rl.SaveToHistory(line)
		if line == "quit" || line == "exit" {
			return
		}
		if err := console.Execute(ctx, line); err != nil {
			fmt.Fprintf(rl.Stdout(), "error: %v (%s)\n", err, rapi.CodeOf(err))
		}
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".openevse_rapi_history")
}
