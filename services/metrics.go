package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"airwatch/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Frame and publish outcome labels.
const (
	ResultOK       = "ok"
	ResultNoFrame  = "no_frame"
	ResultTimeout  = "timeout"
	ResultChecksum = "checksum"
	ResultError    = "error"
)

// Metrics holds the daemon's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesTotal      *prometheus.CounterVec
	publishTotal     *prometheus.CounterVec
	publishDuration  prometheus.Histogram
	linkState        prometheus.Gauge
	particulate      *prometheus.GaugeVec
	aqi              prometheus.Gauge
	initFailures     prometheus.Counter
	displayRedraws   prometheus.Counter
	commandsReceived *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airwatch_frames_total",
			Help: "Sensor read attempts by result.",
		}, []string{"result"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airwatch_publish_total",
			Help: "Telemetry publish attempts by result.",
		}, []string{"result"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "airwatch_publish_duration_seconds",
			Help:    "Histogram of telemetry publish durations.",
			Buckets: prometheus.DefBuckets,
		}),
		linkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airwatch_link_state",
			Help: "Wireless link state (0 disconnected, 1 connecting, 2 connected, 3 failed).",
		}),
		particulate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airwatch_particulate_ugm3",
			Help: "Last valid particulate concentration in µg/m³ by particle size.",
		}, []string{"size"}),
		aqi: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airwatch_aqi",
			Help: "Air quality index derived from the last valid PM2.5 reading.",
		}),
		initFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airwatch_init_failures_total",
			Help: "Failed attempts to initialize required collaborators.",
		}),
		displayRedraws: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airwatch_display_redraws_total",
			Help: "Live-reading redraws issued to the display.",
		}),
		commandsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airwatch_commands_total",
			Help: "Inbound commands by name.",
		}, []string{"command"}),
	}

	m.registry.MustRegister(
		m.framesTotal,
		m.publishTotal,
		m.publishDuration,
		m.linkState,
		m.particulate,
		m.aqi,
		m.initFailures,
		m.displayRedraws,
		m.commandsReceived,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *Metrics) FrameResult(err error) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(frameResultLabel(err)).Inc()
}

func frameResultLabel(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrNoFrame):
		return ResultNoFrame
	case errors.Is(err, ErrFrameTimeout):
		return ResultTimeout
	case errors.Is(err, ErrChecksum):
		return ResultChecksum
	default:
		return ResultError
	}
}

func (m *Metrics) PublishResult(duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.publishTotal.WithLabelValues(result).Inc()
	m.publishDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetLinkState(state models.LinkState) {
	if m == nil {
		return
	}
	m.linkState.Set(float64(state))
}

func (m *Metrics) ObserveReading(r models.Reading, index models.AirQualityIndex) {
	if m == nil {
		return
	}
	m.particulate.WithLabelValues("pm1").Set(float64(r.PM1))
	m.particulate.WithLabelValues("pm2.5").Set(float64(r.PM25))
	m.particulate.WithLabelValues("pm10").Set(float64(r.PM10))
	m.aqi.Set(float64(index.Value))
}

func (m *Metrics) InitFailure() {
	if m == nil {
		return
	}
	m.initFailures.Inc()
}

func (m *Metrics) DisplayRedraw() {
	if m == nil {
		return
	}
	m.displayRedraws.Inc()
}

func (m *Metrics) CommandReceived(name string) {
	if m == nil {
		return
	}
	m.commandsReceived.WithLabelValues(name).Inc()
}
