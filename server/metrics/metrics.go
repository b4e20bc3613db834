package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the classification pipeline
type Metrics struct {
	registry *prometheus.Registry

	predictions   *prometheus.CounterVec
	failures      *prometheus.CounterVec
	cacheHits     prometheus.Counter
	latency       *prometheus.HistogramVec
	confidence    prometheus.Histogram
	eyeAspect     *prometheus.HistogramVec
	pitch         prometheus.Histogram
	activeSockets prometheus.Gauge
}

// New creates a Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drowsiness_predictions_total",
			Help: "Frames classified, by resulting status",
		}, []string{"status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drowsiness_failures_total",
			Help: "Frames that could not be classified, by reason",
		}, []string{"reason"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drowsiness_cache_hits_total",
			Help: "Frames answered from the result cache",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drowsiness_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"stage"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "drowsiness_confidence",
			Help:    "Confidence of the winning label",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		eyeAspect: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drowsiness_eye_aspect_ratio",
			Help:    "Eye aspect ratio of classified frames",
			Buckets: prometheus.LinearBuckets(0.05, 0.05, 10),
		}, []string{"eye"}),
		pitch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "drowsiness_pitch_radians",
			Help:    "Forehead-to-chin angle of classified frames",
			Buckets: prometheus.LinearBuckets(-3, 0.5, 13),
		}),
		activeSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drowsiness_websocket_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	m.registry.MustRegister(
		m.predictions,
		m.failures,
		m.cacheHits,
		m.latency,
		m.confidence,
		m.eyeAspect,
		m.pitch,
		m.activeSockets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RegisterGaugeFunc exposes a value computed at scrape time
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (m *Metrics) ObservePrediction(status string, confidence *float64) {
	m.predictions.WithLabelValues(status).Inc()
	if confidence != nil {
		m.confidence.Observe(*confidence)
	}
}

func (m *Metrics) ObserveFailure(reason string) {
	m.failures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveFeatures(leftEAR, rightEAR, avgEAR, pitch float64) {
	m.eyeAspect.WithLabelValues("left").Observe(leftEAR)
	m.eyeAspect.WithLabelValues("right").Observe(rightEAR)
	m.eyeAspect.WithLabelValues("avg").Observe(avgEAR)
	m.pitch.Observe(pitch)
}

func (m *Metrics) ObserveCacheHit() {
	m.cacheHits.Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.latency.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ClientConnected()    { m.activeSockets.Inc() }
func (m *Metrics) ClientDisconnected() { m.activeSockets.Dec() }

// Handler returns the HTTP handler for /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
