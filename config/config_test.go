package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DEVICE_ID", "")
	t.Setenv("TELEMETRY_BACKEND", "")
	t.Setenv("SENSOR_INTERVAL", "")
	t.Setenv("LINK_MAX_RETRIES", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DeviceID != "RPI_PM25_0001" {
		t.Errorf("DeviceID: got %q", cfg.DeviceID)
	}
	if cfg.TelemetryBackend != BackendMQTT {
		t.Errorf("TelemetryBackend: got %q, want %q", cfg.TelemetryBackend, BackendMQTT)
	}
	if cfg.SensorInterval != time.Second {
		t.Errorf("SensorInterval: got %s", cfg.SensorInterval)
	}
	if cfg.PublishInterval != 5*time.Second {
		t.Errorf("PublishInterval: got %s", cfg.PublishInterval)
	}
	if cfg.LinkMaxRetries != 5 {
		t.Errorf("LinkMaxRetries: got %d", cfg.LinkMaxRetries)
	}
	if cfg.TopicTelemetry != "smartpm25.sensor.data" {
		t.Errorf("TopicTelemetry: got %q", cfg.TopicTelemetry)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DEVICE_ID", "ESP32_PM25_LAB")
	t.Setenv("TELEMETRY_BACKEND", "AMQP")
	t.Setenv("SENSOR_INTERVAL", "250")
	t.Setenv("PUBLISH_INTERVAL", "10s")
	t.Setenv("LINK_MAX_RETRIES", "3")
	t.Setenv("LINK_COOLDOWN", "not-a-duration")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DeviceID != "ESP32_PM25_LAB" {
		t.Errorf("DeviceID: got %q", cfg.DeviceID)
	}
	if cfg.TelemetryBackend != BackendAMQP {
		t.Errorf("TelemetryBackend: got %q", cfg.TelemetryBackend)
	}
	if cfg.SensorInterval != 250*time.Millisecond {
		t.Errorf("bare integers are milliseconds: got %s", cfg.SensorInterval)
	}
	if cfg.PublishInterval != 10*time.Second {
		t.Errorf("PublishInterval: got %s", cfg.PublishInterval)
	}
	if cfg.LinkMaxRetries != 3 {
		t.Errorf("LinkMaxRetries: got %d", cfg.LinkMaxRetries)
	}
	if cfg.LinkCooldown != time.Minute {
		t.Errorf("unparseable duration should keep the default, got %s", cfg.LinkCooldown)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DeviceID:             "RPI_PM25_0001",
			SensorPort:           "/dev/ttyS0",
			TelemetryBackend:     BackendMQTT,
			MQTTBroker:           "tcp://localhost:1883",
			FrameTimeout:         time.Second,
			SensorInterval:       time.Second,
			DisplayInterval:      time.Second,
			LinkCheckInterval:    time.Second,
			PublishInterval:      time.Second,
			TransientDuration:    time.Second,
			TickSlice:            time.Millisecond,
			InitRetryInterval:    time.Second,
			LinkAttemptTimeout:   time.Second,
			LinkCooldown:         time.Second,
			LinkMaxRetries:       1,
			SensorErrorThreshold: 1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "short device id", mutate: func(c *Config) { c.DeviceID = "pm25" }, wantErr: "DEVICE_ID"},
		{name: "device id with spaces", mutate: func(c *Config) { c.DeviceID = "PM25 DEVICE 1" }, wantErr: "DEVICE_ID"},
		{name: "unknown backend", mutate: func(c *Config) { c.TelemetryBackend = "kafka" }, wantErr: "TELEMETRY_BACKEND"},
		{name: "firebase without credentials", mutate: func(c *Config) { c.TelemetryBackend = BackendFirebase }, wantErr: "FIREBASE_DB_URL"},
		{name: "zero publish interval", mutate: func(c *Config) { c.PublishInterval = 0 }, wantErr: "PUBLISH_INTERVAL"},
		{name: "no retries", mutate: func(c *Config) { c.LinkMaxRetries = 0 }, wantErr: "LINK_MAX_RETRIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}
