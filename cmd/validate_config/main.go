package main

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"openevse-mqtt-bridge/pkg/config"
	"openevse-mqtt-bridge/pkg/services"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: validate_config <config-file> [--dump]")
		os.Exit(1)
	}

	configPath := os.Args[1]
	fmt.Printf("📄 Loading config from: %s\n", configPath)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("❌ Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Config loaded successfully!\n")
	fmt.Printf("   Version: %s\n", cfg.Version)
	fmt.Printf("   MQTT Broker: %s\n", config.NewMQTTSettings(cfg).BrokerURL())
	fmt.Printf("   RAPI base topic: %s (events on %s)\n", cfg.EVSE.BaseTopic, cfg.EVSE.EventTopic)
	fmt.Printf("   Device: %s (%s)\n", cfg.EVSE.DeviceID, cfg.EVSE.Name)
	fmt.Printf("   State prefix: %s\n", cfg.HomeAssistant.StatePrefix)
	fmt.Printf("   Time zone: %s\n", cfg.Location())

	groups := cfg.EnabledGroups()
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("   Poll groups: %d\n", len(groups))
	for _, name := range names {
		fmt.Printf("     - %s: every %d ms\n", name, groups[name])
	}

	if cfg.EVSE.Heartbeat.Interval > 0 {
		fmt.Printf("   Heartbeat supervision: %ds, limit %dA\n", cfg.EVSE.Heartbeat.Interval, cfg.EVSE.Heartbeat.CurrentLimit)
	} else {
		fmt.Printf("   Heartbeat supervision: disabled\n")
	}
	fmt.Printf("   HTTP: %v (%s)\n", cfg.HTTP.Enabled, cfg.HTTP.Addr)
	fmt.Printf("   Redis: %v (%s)\n", cfg.Redis.Enabled, cfg.Redis.Addr)

	commands := services.Commands()
	sort.Strings(commands)
	fmt.Printf("   Control topics: %s/set/{%v}\n", cfg.HomeAssistant.StatePrefix, commands)

	if len(os.Args) > 2 && os.Args[2] == "--dump" {
		redacted := *cfg
		if redacted.MQTT.Password != "" {
			redacted.MQTT.Password = "********"
		}
		if redacted.Redis.Password != "" {
			redacted.Redis.Password = "********"
		}
		out, err := yaml.Marshal(&redacted)
		if err != nil {
			fmt.Printf("❌ Error encoding config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\n--- effective configuration ---\n%s", out)
	}

	fmt.Println("\n✅ Configuration is valid!")
}
