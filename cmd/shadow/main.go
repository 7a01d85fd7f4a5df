package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"

	"airwatch/config"
	"airwatch/models"
	"airwatch/services"
)

var device = flag.String("device", "", "Device ID to read (defaults to DEVICE_ID)")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if cfg.FirebaseDbUrl == "" || cfg.FirebaseServiceAccountJSON == "" {
		log.Fatal("FIREBASE_DB_URL and FIREBASE_SERVICE_ACCOUNT_JSON must be set")
	}

	deviceID := cfg.DeviceID
	if *device != "" {
		deviceID = *device
	}

	ctx := context.Background()
	client, err := services.NewRealtimeDatabase(ctx, cfg)
	if err != nil {
		log.Fatalf("Error getting database client: %v", err)
	}

	var status models.DeviceStatus
	if err := client.NewRef(services.ShadowPath(cfg.TopicStatus, deviceID)).Get(ctx, &status); err != nil {
		log.Fatalf("Error reading device status: %v", err)
	}
	fmt.Printf("Device: %s\n", deviceID)
	fmt.Printf("Status: %s\n", status.Status)

	var telemetry models.Telemetry
	if err := client.NewRef(services.ShadowPath(cfg.TopicTelemetry, deviceID)).Get(ctx, &telemetry); err != nil {
		log.Fatalf("Error reading telemetry shadow: %v", err)
	}
	if telemetry.DeviceID == "" {
		fmt.Println("No telemetry written yet")
		return
	}

	out, _ := json.MarshalIndent(telemetry, "", "  ")
	fmt.Println(string(out))

	var pending map[string]models.Command
	if err := client.NewRef(services.ShadowPath(cfg.TopicCommands, deviceID)).Get(ctx, &pending); err != nil {
		log.Fatalf("Error reading pending commands: %v", err)
	}
	fmt.Printf("Pending commands: %d\n", len(pending))
	for key, cmd := range pending {
		fmt.Printf("  %s: %s %s\n", key, cmd.Command, cmd.Text)
	}
}
