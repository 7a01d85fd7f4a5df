package services

import (
	"airwatch/models"

	"go.uber.org/zap"
)

// LogDisplay renders display content as log entries for hosts without a
// panel.
type LogDisplay struct {
	logger *zap.Logger
}

func NewLogDisplay(logger *zap.Logger) *LogDisplay {
	return &LogDisplay{logger: logger.Named("display")}
}

func (d *LogDisplay) Init() error {
	d.logger.Info("Log display ready")
	return nil
}

func (d *LogDisplay) ShowStatus(text string) error {
	d.logger.Info("Status", zap.String("text", text))
	return nil
}

func (d *LogDisplay) ShowError(text string) error {
	d.logger.Warn("Error", zap.String("text", text))
	return nil
}

func (d *LogDisplay) ShowReadings(screen models.Screen) error {
	d.logger.Info("Readings",
		zap.String("value", screen.Value),
		zap.String("index", screen.Index),
		zap.String("advisory", screen.Advisory),
		zap.String("link", screen.Link))
	return nil
}
