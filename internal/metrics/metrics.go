// Package metrics provides the Prometheus metrics of the detection service.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics related to detection operations.
type Metrics struct {
	DetectionCounter  *prometheus.CounterVec
	InvocationCounter *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec
	AlertCounter      prometheus.Counter
	ModelLoadTotal    *prometheus.CounterVec
	ModelLoadedGauge  prometheus.Gauge
	VideoJobsGauge    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the metrics and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register detection metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.DetectionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuewatch_detections_total",
			Help: "Total number of detected objects partitioned by class label.",
		},
		[]string{"label"},
	)
	m.InvocationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuewatch_invocations_total",
			Help: "Total number of detector invocations by source and status.",
		},
		[]string{"source", "status"},
	)
	m.InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queuewatch_inference_duration_seconds",
			Help:    "Time taken by the detector for one image or frame.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		},
		[]string{"source"},
	)
	m.AlertCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queuewatch_alerts_total",
			Help: "Total number of analyses that crossed the alert threshold.",
		},
	)
	m.ModelLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuewatch_model_load_total",
			Help: "Total number of model load attempts",
		},
		[]string{"status"},
	)
	m.ModelLoadedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuewatch_model_loaded",
			Help: "Whether the detection model is currently loaded (1) or not (0)",
		},
	)
	m.VideoJobsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuewatch_video_jobs_active",
			Help: "Number of video jobs queued or running",
		},
	)
}

// RecordInvocation records one detector call. Detections are only counted on success.
func (m *Metrics) RecordInvocation(source string, seconds float64, labels []string, err error) {
	if err != nil {
		m.InvocationCounter.WithLabelValues(source, "error").Inc()
		return
	}
	m.InvocationCounter.WithLabelValues(source, "success").Inc()
	m.InferenceDuration.WithLabelValues(source).Observe(seconds)
	for _, label := range labels {
		m.DetectionCounter.WithLabelValues(label).Inc()
	}
}

// RecordAlert counts a fired alert.
func (m *Metrics) RecordAlert() {
	m.AlertCounter.Inc()
}

// RecordModelLoad records the outcome of a model (re)load.
func (m *Metrics) RecordModelLoad(err error) {
	if err != nil {
		m.ModelLoadTotal.WithLabelValues("error").Inc()
		m.ModelLoadedGauge.Set(0)
		return
	}
	m.ModelLoadTotal.WithLabelValues("success").Inc()
	m.ModelLoadedGauge.Set(1)
}

// SetModelLoaded sets the model gauge without counting a load attempt.
func (m *Metrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoadedGauge.Set(1)
	} else {
		m.ModelLoadedGauge.Set(0)
	}
}

// RegisterSessionGauge exposes the number of live sessions, read on scrape.
func (m *Metrics) RegisterSessionGauge(count func() int) error {
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "queuewatch_sessions_active",
			Help: "Number of sessions currently held in memory",
		},
		func() float64 { return float64(count()) },
	))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.DetectionCounter.Describe(ch)
	m.InvocationCounter.Describe(ch)
	m.InferenceDuration.Describe(ch)
	ch <- m.AlertCounter.Desc()
	m.ModelLoadTotal.Describe(ch)
	ch <- m.ModelLoadedGauge.Desc()
	ch <- m.VideoJobsGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.DetectionCounter.Collect(ch)
	m.InvocationCounter.Collect(ch)
	m.InferenceDuration.Collect(ch)
	ch <- m.AlertCounter
	m.ModelLoadTotal.Collect(ch)
	ch <- m.ModelLoadedGauge
	ch <- m.VideoJobsGauge
}
