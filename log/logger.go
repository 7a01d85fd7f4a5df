package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerInstance *zap.Logger
	loggerLevel    = zapcore.InfoLevel
)

// SetLevel parses a textual level ("debug", "info", "warn", "error") and
// applies it to the logger built by the next GetInstance call. Unknown values
// keep the info level.
func SetLevel(level string) {
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		loggerLevel = lvl
	}
}

// initLogger initializes structured JSON logger for production
func initLogger() {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(loggerLevel)
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := config.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	loggerInstance = logger.With(zap.String("service", "airwatch"))
}

func GetInstance() *zap.Logger {
	if loggerInstance == nil {
		initLogger()
	}
	return loggerInstance
}
