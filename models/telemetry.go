package models

// MaxTelemetryPayload is the ceiling for one serialized telemetry message.
const MaxTelemetryPayload = 512

// Telemetry is the record published on the telemetry topic.
type Telemetry struct {
	DeviceID string            `json:"device_id"`
	Readings TelemetryReadings `json:"readings"`
	Metadata TelemetryMetadata `json:"metadata"`
	AQI      TelemetryAQI      `json:"aqi"`
}

type TelemetryReadings struct {
	PM1  uint16 `json:"pm1"`
	PM25 uint16 `json:"pm25"`
	PM10 uint16 `json:"pm10"`
}

type TelemetryMetadata struct {
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	WiFiRSSI  int    `json:"wifi_rssi"`
	IP        string `json:"ip"`
}

type TelemetryAQI struct {
	Value         int    `json:"value"`
	Category      string `json:"category"`
	HealthMessage string `json:"health_message"`
}

// DeviceStatus is published retained on the status topic.
type DeviceStatus struct {
	DeviceID string `json:"device_id,omitempty"`
	Status   string `json:"status"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Command arrives on the command topic.
type Command struct {
	Command string `json:"command"`
	Text    string `json:"text,omitempty"`
}

const (
	CommandPublish = "publish" // publish on the next tick
	CommandStatus  = "status"  // show Text as a transient status
	CommandRedraw  = "redraw"  // force a full live redraw
)
