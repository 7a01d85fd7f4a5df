package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"airwatch/config"
	"airwatch/models"

	"go.uber.org/zap"
)

// InitStep brings up one required collaborator.
type InitStep struct {
	Name string
	Run  func() error
}

// Orchestrator is the cooperative scheduler. Every periodic duty runs from
// Tick on a single goroutine, so none of the state below is locked.
type Orchestrator struct {
	config    *config.Config
	decoder   *FrameDecoder
	link      *LinkManager
	presenter *Presenter
	publisher Publisher
	logger    *zap.Logger
	metrics   *Metrics
	initSteps []InitStep

	initialized     bool
	lastInitAttempt time.Time

	lastLink    time.Time
	lastSensor  time.Time
	lastDisplay time.Time
	lastPublish time.Time
	lastOffline time.Time

	reading        models.Reading
	index          models.AirQualityIndex
	sensorFailures int
	publishNow     bool

	// tickTime is the timestamp of the tick in progress; inbound commands
	// are handled during Service and use it.
	tickTime time.Time
}

func NewOrchestrator(
	cfg *config.Config,
	decoder *FrameDecoder,
	link *LinkManager,
	presenter *Presenter,
	publisher Publisher,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		config:    cfg,
		decoder:   decoder,
		link:      link,
		presenter: presenter,
		publisher: publisher,
		logger:    logger,
	}
	publisher.SetMessageHandler(o.handleMessage)
	return o
}

func (o *Orchestrator) WithMetrics(m *Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// AddInitStep registers a collaborator that must come up before the loop
// starts its periodic duties. Steps run in registration order.
func (o *Orchestrator) AddInitStep(name string, run func() error) {
	o.initSteps = append(o.initSteps, InitStep{Name: name, Run: run})
}

func (o *Orchestrator) Initialized() bool { return o.initialized }

// Reading returns the held reading and its index.
func (o *Orchestrator) Reading() (models.Reading, models.AirQualityIndex) {
	return o.reading, o.index
}

// Run ticks until ctx is cancelled, yielding TickSlice between ticks.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("Starting orchestration loop",
		zap.Duration("tick_slice", o.config.TickSlice),
		zap.Duration("sensor_interval", o.config.SensorInterval),
		zap.Duration("publish_interval", o.config.PublishInterval))

	timer := time.NewTimer(o.config.TickSlice)
	defer timer.Stop()

	for {
		o.Tick(time.Now())

		timer.Reset(o.config.TickSlice)
		select {
		case <-ctx.Done():
			o.logger.Info("Orchestration loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Tick runs one pass of the fixed step sequence. The publisher is serviced on
// every tick, initialized or not. A reading taken by the sensor step is
// visible to the publish step of the same tick.
func (o *Orchestrator) Tick(now time.Time) {
	o.tickTime = now

	o.publisher.Service()

	if !o.initialized {
		if !o.tryInit(now) {
			return
		}
	}

	if due(o.lastLink, now, o.config.LinkCheckInterval) {
		o.lastLink = now
		o.link.Poll(now)
	}

	if due(o.lastSensor, now, o.config.SensorInterval) {
		o.lastSensor = now
		o.sensorStep(now)
	}

	if due(o.lastDisplay, now, o.config.DisplayInterval) {
		o.lastDisplay = now
		o.presenter.Update(now, RenderScreen(o.reading, o.index, o.link.Status()))
	}

	if (o.publishNow || due(o.lastPublish, now, o.config.PublishInterval)) && o.reading.Valid {
		switch {
		case o.link.IsConnected():
			o.lastPublish = now
			o.publishNow = false
			o.publishStep(now)
		case due(o.lastOffline, now, o.config.PublishInterval):
			// Shown at most once per publish interval while the link is down.
			o.lastOffline = now
			o.logger.Debug("Publish due but link is down", zap.Stringer("link", o.link.Status().State))
			o.presenter.ShowStatus(MsgNoWiFi, now)
		}
	}
}

func due(last, now time.Time, interval time.Duration) bool {
	return last.IsZero() || now.Sub(last) >= interval
}

func (o *Orchestrator) tryInit(now time.Time) bool {
	if !o.lastInitAttempt.IsZero() && now.Sub(o.lastInitAttempt) < o.config.InitRetryInterval {
		return false
	}
	o.lastInitAttempt = now

	for _, step := range o.initSteps {
		if err := step.Run(); err != nil {
			o.metrics.InitFailure()
			o.logger.Error("Initialization failed, will retry",
				zap.String("step", step.Name),
				zap.Duration("retry_in", o.config.InitRetryInterval),
				zap.Error(err))
			o.presenter.ShowError(MsgInitError, now)
			return false
		}
	}

	o.initialized = true
	o.lastPublish = now
	o.logger.Info("Initialization complete", zap.Int("steps", len(o.initSteps)))
	o.presenter.ShowStatus(MsgStarting, now)
	return true
}

func (o *Orchestrator) sensorStep(now time.Time) {
	reading, err := o.decoder.Read()
	o.metrics.FrameResult(err)
	if err != nil {
		o.sensorFailures++
		o.logger.Debug("No valid sensor frame",
			zap.Int("consecutive_failures", o.sensorFailures),
			zap.Error(err))
		if o.sensorFailures%max(o.config.SensorErrorThreshold, 1) == 0 {
			o.logger.Warn("Sensor not producing valid frames",
				zap.Int("consecutive_failures", o.sensorFailures))
			o.presenter.ShowError(MsgSensorError, now)
		}
		return
	}

	o.sensorFailures = 0
	if reading == o.reading {
		return
	}
	o.reading = reading
	o.index = CalculateAQI(float64(reading.PM25))
	o.metrics.ObserveReading(o.reading, o.index)
	o.logger.Debug("Sensor reading updated",
		zap.Uint16("pm1", reading.PM1),
		zap.Uint16("pm25", reading.PM25),
		zap.Uint16("pm10", reading.PM10),
		zap.Int("aqi", o.index.Value),
		zap.Stringer("category", o.index.Category))
}

func (o *Orchestrator) publishStep(now time.Time) {
	start := time.Now()
	err := o.publish(now)
	o.metrics.PublishResult(time.Since(start), err)

	if err != nil {
		o.logger.Warn("Telemetry publish failed", zap.String("topic", o.config.TopicTelemetry), zap.Error(err))
		o.presenter.ShowStatus(MsgSendFailed, now)
		return
	}
	o.logger.Info("Telemetry published",
		zap.String("topic", o.config.TopicTelemetry),
		zap.Uint16("pm25", o.reading.PM25))
	o.presenter.ShowStatus(MsgDataSent, now)
}

func (o *Orchestrator) publish(now time.Time) error {
	if !o.publisher.IsConnected() {
		return ErrPublisherOffline
	}
	// Recomputed rather than read from o.index.
	index := CalculateAQI(float64(o.reading.PM25))
	payload, err := ComposeTelemetry(o.config.DeviceID, o.reading, index, models.TelemetryMetadata{
		Timestamp: now.UnixMilli(),
		WiFiRSSI:  o.link.SignalStrength(),
		IP:        o.link.LocalAddress(),
	})
	if err != nil {
		return err
	}
	return o.publisher.Publish(o.config.TopicTelemetry, payload)
}

// ComposeTelemetry serializes one telemetry record, enforcing
// models.MaxTelemetryPayload.
func ComposeTelemetry(deviceID string, reading models.Reading, index models.AirQualityIndex, meta models.TelemetryMetadata) ([]byte, error) {
	payload, err := json.Marshal(models.Telemetry{
		DeviceID: deviceID,
		Readings: models.TelemetryReadings{PM1: reading.PM1, PM25: reading.PM25, PM10: reading.PM10},
		Metadata: meta,
		AQI: models.TelemetryAQI{
			Value:         index.Value,
			Category:      index.Category.String(),
			HealthMessage: index.HealthMessage,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal telemetry: %w", err)
	}
	if len(payload) > models.MaxTelemetryPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	return payload, nil
}

func (o *Orchestrator) handleMessage(topic string, payload []byte) {
	var cmd models.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		o.logger.Warn("Ignoring malformed command", zap.String("topic", topic), zap.Error(err))
		return
	}
	o.logger.Info("Command received", zap.String("topic", topic), zap.String("command", cmd.Command))

	label := cmd.Command
	switch cmd.Command {
	case models.CommandPublish:
		o.publishNow = true
	case models.CommandStatus:
		if cmd.Text != "" {
			o.presenter.ShowStatus(cmd.Text, o.tickTime)
		}
	case models.CommandRedraw:
		o.presenter.Invalidate()
	default:
		label = "unknown"
		o.logger.Warn("Unknown command", zap.String("command", cmd.Command))
	}
	o.metrics.CommandReceived(label)
}
