package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airwatch/models"
	"airwatch/services"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

var (
	rate     = flag.Int("rate", 1, "Frames per second")
	portPath = flag.String("port", "", "Serial port to write frames to (stdout when empty)")
	baud     = flag.Int("baud", 9600, "Serial baud rate")
	basePM25 = flag.Float64("pm25", 12, "Baseline PM2.5 concentration in µg/m³")
	corrupt  = flag.Float64("corrupt", 0.05, "Probability of a corrupted checksum (0.0-1.0)")
	truncate = flag.Float64("truncate", 0.02, "Probability of a truncated frame (0.0-1.0)")
)

// FrameGenerator produces plausible particulate readings with occasional
// line faults.
type FrameGenerator struct {
	pm25        float64
	corruptProb float64
	truncProb   float64
	logger      *zap.Logger
}

func NewFrameGenerator(base, corruptProb, truncProb float64, logger *zap.Logger) *FrameGenerator {
	return &FrameGenerator{
		pm25:        base,
		corruptProb: corruptProb,
		truncProb:   truncProb,
		logger:      logger,
	}
}

// Next returns the bytes of one frame and the reading it carries.
func (g *FrameGenerator) Next() ([]byte, models.Reading, string) {
	// Random walk that stays within the sensor range.
	g.pm25 = math.Max(0, math.Min(999, g.pm25+rand.NormFloat64()*1.5))

	pm25 := uint16(math.Round(g.pm25))
	reading := models.Reading{
		PM1:  uint16(math.Round(g.pm25 * 0.7)),
		PM25: pm25,
		PM10: uint16(math.Round(g.pm25 * 1.4)),
	}
	frame := services.EncodeFrame(reading)

	r := rand.Float64()
	switch {
	case r < g.corruptProb:
		frame[services.FrameSize-1] ^= 0xFF
		return frame, reading, "corrupt"
	case r < g.corruptProb+g.truncProb:
		return frame[:rand.Intn(services.FrameSize-2)+2], reading, "truncated"
	default:
		return frame, reading, "ok"
	}
}

func openOutput(logger *zap.Logger) (io.WriteCloser, error) {
	if *portPath == "" {
		logger.Info("Writing frames to stdout")
		return os.Stdout, nil
	}
	port, err := serial.Open(*portPath, &serial.Mode{
		BaudRate: *baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *rate < 1 {
		logger.Fatal("rate must be at least 1")
	}

	logger.Info("Sensor frame generator started",
		zap.Int("rate", *rate),
		zap.String("port", *portPath),
		zap.Float64("pm25", *basePM25),
		zap.Float64("corrupt_probability", *corrupt),
		zap.Float64("truncate_probability", *truncate),
	)

	out, err := openOutput(logger)
	if err != nil {
		logger.Fatal("Failed to open output", zap.Error(err))
	}
	defer out.Close()

	gen := NewFrameGenerator(*basePM25, *corrupt, *truncate, logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping generator")
		cancel()
	}()

	interval := time.Second / time.Duration(*rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(60 * time.Second)
	defer statsTicker.Stop()

	counts := map[string]int{}
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(startTime)
			logger.Info("Shutting down",
				zap.Int("ok", counts["ok"]),
				zap.Int("corrupt", counts["corrupt"]),
				zap.Int("truncated", counts["truncated"]),
				zap.Duration("uptime", elapsed),
			)
			return

		case <-ticker.C:
			frame, reading, kind := gen.Next()
			if _, err := out.Write(frame); err != nil {
				logger.Error("Failed to write frame", zap.Error(err))
				continue
			}
			counts[kind]++

			logger.Debug("Frame written",
				zap.String("kind", kind),
				zap.Uint16("pm25", reading.PM25),
				zap.Int("aqi", services.CalculateAQI(float64(reading.PM25)).Value),
			)

		case <-statsTicker.C:
			logger.Info("Statistics",
				zap.Int("ok", counts["ok"]),
				zap.Int("corrupt", counts["corrupt"]),
				zap.Int("truncated", counts["truncated"]),
				zap.Duration("uptime", time.Since(startTime)),
			)
		}
	}
}
