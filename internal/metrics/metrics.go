// Package metrics exposes the detector's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used with ObserveStage.
const (
	StagePreprocess = "preprocess"
	StageClassify   = "classify"
	StageSaliency   = "saliency"
	StageComposite  = "composite"
	StageTotal      = "total"
)

// Latency buckets in milliseconds.
var latencyBuckets = []float64{
	5, 10, 25,
	50, 100, 250,
	500, 1000, 2500,
	5000, 10000, 30000,
}

// Metrics owns a registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	StageLatency    *prometheus.HistogramVec
	HeatmapFailures *prometheus.CounterVec
	ModelLoad       prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "detector_requests_total",
				Help: "Total number of prediction requests by outcome",
			},
			[]string{"status"},
		),
		StageLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "detector_stage_latency_ms",
				Help:    "Pipeline stage latency in milliseconds",
				Buckets: latencyBuckets,
			},
			[]string{"stage"},
		),
		HeatmapFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "detector_heatmap_failures_total",
				Help: "Heatmaps that could not be produced, by reason",
			},
			[]string{"reason"},
		),
		ModelLoad: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "detector_model_load_seconds",
				Help: "Duration of the last successful model load",
			},
		),
	}
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(status string) {
	m.Requests.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(float64(d) / float64(time.Millisecond))
}

func (m *Metrics) HeatmapFailure(reason string) {
	m.HeatmapFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ModelLoaded(d time.Duration) {
	m.ModelLoad.Set(d.Seconds())
}
