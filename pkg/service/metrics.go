package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the scoring pipeline. Every Pipeline gets its own
// registry so embedders can compose or expose them as they like.
type Metrics struct {
	registry *prometheus.Registry

	predictions  *prometheus.CounterVec
	alertsStored prometheus.Counter
	storeErrors  prometheus.Counter
	latency      prometheus.Histogram
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gothreatml",
			Name:      "predictions_total",
			Help:      "Predictions served, by model and predicted class.",
		}, []string{"model", "class"}),
		alertsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gothreatml",
			Name:      "alerts_stored_total",
			Help:      "Alerts persisted to the store.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gothreatml",
			Name:      "alert_store_errors_total",
			Help:      "Failed attempts to persist an alert.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gothreatml",
			Name:      "score_duration_seconds",
			Help:      "End to end latency of Pipeline.Score.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.predictions, m.alertsStored, m.storeErrors, m.latency)
	return m
}

// Registry exposes the pipeline's metric registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
