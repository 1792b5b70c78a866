// Package service wires the detector, the alert store and the live
// notifier into the scoring pipeline the transports call into.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hed1ad/gothreatml/pkg/alerts"
	"github.com/hed1ad/gothreatml/pkg/dataset"
	"github.com/hed1ad/gothreatml/pkg/detector"
)

// ScoreRequest is one classification request. Exactly one of Features and
// Fields should be set; Features wins when both are. An empty SourceIP is
// recorded as "unknown".
type ScoreRequest struct {
	Features []float64      `json:"features,omitempty"`
	Fields   dataset.Record `json:"fields,omitempty"`
	Model    string         `json:"model,omitempty"`
	SourceIP string         `json:"source_ip,omitempty"`
}

// ScoreResult is the outcome of a scored request. AlertID is zero when the
// alert could not be persisted.
type ScoreResult struct {
	Prediction *detector.Prediction `json:"prediction"`
	AlertID    int64                `json:"alert_id,omitempty"`
	Model      string               `json:"model"`
}

// Pipeline runs predict, persist, notify for every request, in that order.
type Pipeline struct {
	detector *detector.Detector
	store    *alerts.Store
	notifier *alerts.Notifier
	metrics  *Metrics
	log      *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.log = l
	}
}

// NewPipeline assembles a pipeline over an already prepared detector,
// store and notifier. The pipeline does not own them; the caller closes
// the store and notifier when done.
func NewPipeline(d *detector.Detector, store *alerts.Store, notifier *alerts.Notifier, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		detector: d,
		store:    store,
		notifier: notifier,
		metrics:  newMetrics(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.metrics.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "gothreatml",
		Name:      "live_updates_dropped_total",
		Help:      "Live updates discarded for slow subscribers.",
	}, func() float64 { return float64(notifier.Dropped()) }))
	return p
}

// Detector returns the pipeline's detector.
func (p *Pipeline) Detector() *detector.Detector { return p.detector }

// Store returns the pipeline's alert store.
func (p *Pipeline) Store() *alerts.Store { return p.store }

// Notifier returns the pipeline's live update hub.
func (p *Pipeline) Notifier() *alerts.Notifier { return p.notifier }

// Metrics returns the pipeline's metric set.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// Score classifies one request. A prediction error fails the request and
// writes nothing. After a successful prediction the alert is persisted and
// broadcast; a store failure is returned wrapped around alerts.ErrAppend
// with the result still attached, and a broadcast can never fail anything.
func (p *Pipeline) Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	start := time.Now()
	defer func() {
		p.metrics.latency.Observe(time.Since(start).Seconds())
	}()

	model := req.Model
	if model == "" {
		model = detector.DefaultModel
	}
	sourceIP := req.SourceIP
	if sourceIP == "" {
		sourceIP = "unknown"
	}

	pred, err := p.detector.PredictOne(detector.Input{
		Vector: req.Features,
		Fields: req.Fields,
	}, model)
	if err != nil {
		return nil, err
	}
	p.metrics.predictions.WithLabelValues(model, pred.Class).Inc()

	result := &ScoreResult{Prediction: pred, Model: model}

	details, _ := json.Marshal(pred.Probabilities)
	id, storeErr := p.store.Append(ctx, alerts.Alert{
		Timestamp:  time.Now().UTC(),
		ThreatType: pred.Class,
		Confidence: pred.Confidence,
		SourceIP:   sourceIP,
		Details:    string(details),
	})
	if storeErr != nil {
		p.metrics.storeErrors.Inc()
		p.log.Error("alert not persisted", "threat", pred.Class, "err", storeErr)
	} else {
		result.AlertID = id
		p.metrics.alertsStored.Inc()
	}

	p.notifier.Broadcast(alerts.LiveUpdate{
		Timestamp: time.Now().UTC(),
		Threat:    pred.Class,
		Value:     int(pred.Confidence * 100),
	})

	if storeErr != nil {
		return result, storeErr
	}
	return result, nil
}
