package services

import (
	"fmt"
	"strings"
	"time"

	"airwatch/models"

	"go.uber.org/zap"
)

// Display is the local output panel. Calls are synchronous and must return
// quickly.
type Display interface {
	Init() error
	ShowStatus(text string) error
	ShowReadings(screen models.Screen) error
	ShowError(text string) error
}

const DefaultTransientDuration = 2 * time.Second

// Transient messages shown by the daemon.
const (
	MsgStarting    = "Starting..."
	MsgDataSent    = "Data Sent!"
	MsgSendFailed  = "Send Failed!"
	MsgNoWiFi      = "No WiFi!"
	MsgSensorError = "Sensor Err"
	MsgInitError   = "Error!"
)

// Presenter decides when the display is redrawn. A transient status
// overrides live readings for a fixed duration; live readings are redrawn
// only when their rendered text changes.
type Presenter struct {
	display  Display
	duration time.Duration
	logger   *zap.Logger
	metrics  *Metrics

	mode           models.PresentationMode
	transientSince time.Time
	last           models.Screen
	hasLast        bool
}

func NewPresenter(display Display, duration time.Duration, logger *zap.Logger) *Presenter {
	if duration <= 0 {
		duration = DefaultTransientDuration
	}
	return &Presenter{
		display:  display,
		duration: duration,
		logger:   logger,
		mode:     models.ShowingLiveReadings,
	}
}

func (p *Presenter) WithMetrics(m *Metrics) *Presenter {
	p.metrics = m
	return p
}

func (p *Presenter) Mode() models.PresentationMode {
	return p.mode
}

// ShowStatus overlays a short informational message.
func (p *Presenter) ShowStatus(text string, now time.Time) {
	p.enterTransient(now)
	if err := p.display.ShowStatus(text); err != nil {
		p.logger.Warn("Display status failed", zap.String("text", text), zap.Error(err))
	}
}

// ShowError overlays a short error message.
func (p *Presenter) ShowError(text string, now time.Time) {
	p.enterTransient(now)
	if err := p.display.ShowError(text); err != nil {
		p.logger.Warn("Display error message failed", zap.String("text", text), zap.Error(err))
	}
}

func (p *Presenter) enterTransient(now time.Time) {
	p.mode = models.ShowingTransientStatus
	p.transientSince = now
}

// Invalidate forces the next live update to redraw.
func (p *Presenter) Invalidate() {
	p.last = models.Screen{}
	p.hasLast = false
}

// Update runs one display cycle. It reports whether the display was redrawn.
func (p *Presenter) Update(now time.Time, screen models.Screen) bool {
	if p.mode == models.ShowingTransientStatus {
		if now.Sub(p.transientSince) < p.duration {
			return false
		}
		p.mode = models.ShowingLiveReadings
		p.Invalidate()
	}

	if p.hasLast && p.last == screen {
		return false
	}
	if err := p.display.ShowReadings(screen); err != nil {
		p.logger.Warn("Display redraw failed", zap.Error(err))
		return false
	}
	p.last = screen
	p.hasLast = true
	p.metrics.DisplayRedraw()
	return true
}

// RenderScreen builds the four live display regions. The link line depends
// only on the link state and retry count so it changes only on transitions.
func RenderScreen(reading models.Reading, index models.AirQualityIndex, link models.LinkStatus) models.Screen {
	screen := models.Screen{
		Value:    "PM2.5 --",
		Index:    "AQI --",
		Advisory: "Waiting for sensor",
		Link:     renderLink(link),
	}
	if reading.Valid {
		screen.Value = fmt.Sprintf("PM2.5 %d", reading.PM25)
		screen.Index = fmt.Sprintf("AQI %d %s", index.Value, index.Category)
		screen.Advisory = index.HealthMessage
	}
	return screen
}

func renderLink(link models.LinkStatus) string {
	switch link.State {
	case models.LinkConnected:
		return "WiFi: connected"
	case models.LinkConnecting:
		return "Connecting" + strings.Repeat(".", link.Retries%4)
	case models.LinkFailed:
		return "WiFi Failed!"
	default:
		return "WiFi: offline"
	}
}
