package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airwatch/config"
	"airwatch/log"
	"airwatch/models"
	"airwatch/services"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.GetInstance().Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize structured logger
	log.SetLevel(cfg.LogLevel)
	logger := log.GetInstance().With(zap.String("device_id", cfg.DeviceID))
	defer logger.Sync()

	metrics := services.NewMetrics()

	// Sensor
	source := services.NewSerialSource(cfg.SensorPort, cfg.SensorBaud, logger)
	defer source.Close()
	decoder := services.NewFrameDecoder(source, cfg.FrameTimeout)

	// Display
	var display services.Display
	if cfg.DisplayPort != "" {
		oled := services.NewOLEDDisplay(cfg.DisplayPort, cfg.DisplayBaud, cfg.DisplayContrast, logger)
		defer oled.Close()
		display = oled
	} else {
		display = services.NewLogDisplay(logger)
	}
	presenter := services.NewPresenter(display, cfg.TransientDuration, logger).WithMetrics(metrics)

	// Wireless link
	wifi := services.NewWiFiService(cfg.WiFiInterface, logger)
	link := services.NewLinkManager(wifi,
		models.Credentials{SSID: cfg.WiFiSSID, Password: cfg.WiFiPassword},
		services.LinkPolicy{
			AttemptTimeout: cfg.LinkAttemptTimeout,
			MaxRetries:     cfg.LinkMaxRetries,
			Cooldown:       cfg.LinkCooldown,
		},
		logger, time.Now()).WithMetrics(metrics)

	// Telemetry
	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry publisher",
			zap.String("backend", cfg.TelemetryBackend),
			zap.Error(err))
	}
	if err := publisher.Start(); err != nil {
		logger.Error("Telemetry publisher did not start cleanly", zap.Error(err))
	}

	orchestrator := services.NewOrchestrator(cfg, decoder, link, presenter, publisher, logger).WithMetrics(metrics)
	orchestrator.AddInitStep("display", display.Init)
	orchestrator.AddInitStep("sensor", source.Open)

	logger.Info("Air quality monitor started",
		zap.String("sensor_port", cfg.SensorPort),
		zap.String("display_port", cfg.DisplayPort),
		zap.String("wifi_interface", cfg.WiFiInterface),
		zap.String("backend", cfg.TelemetryBackend),
		zap.Duration("publish_interval", cfg.PublishInterval),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping services")
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("Metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	if err := orchestrator.Run(ctx); err != nil {
		logger.Error("Orchestration loop failed", zap.Error(err))
	}

	// Perform cleanup
	logger.Info("Starting cleanup")
	if err := publisher.Close(); err != nil {
		logger.Error("Error closing telemetry publisher", zap.Error(err))
	}
	logger.Info("Air quality monitor stopped")
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (services.Publisher, error) {
	switch cfg.TelemetryBackend {
	case config.BackendAMQP:
		return services.NewRabbitMQService(cfg, logger), nil
	case config.BackendFirebase:
		return services.NewFirebaseService(cfg, logger)
	default:
		return services.NewMQTTService(cfg, logger)
	}
}
