package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/hed1ad/gothreatml/pkg/dataset"
)

// Simulator feeds the pipeline one synthetic record per tick, standing in
// for live traffic while demonstrating the system.
type Simulator struct {
	pipeline *Pipeline
	interval time.Duration
	seed     int64
	log      *slog.Logger
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) SimulatorOption {
	return func(s *Simulator) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSimulatorSeed seeds the synthetic record stream.
func WithSimulatorSeed(seed int64) SimulatorOption {
	return func(s *Simulator) {
		s.seed = seed
	}
}

// WithSimulatorLogger replaces the default logger.
func WithSimulatorLogger(l *slog.Logger) SimulatorOption {
	return func(s *Simulator) {
		s.log = l
	}
}

// NewSimulator creates a simulator over a trained pipeline.
func NewSimulator(p *Pipeline, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		pipeline: p,
		interval: 5 * time.Second,
		seed:     time.Now().UnixNano(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run submits one record per tick until ctx is cancelled. Scoring errors
// are logged and do not stop the loop.
func (s *Simulator) Run(ctx context.Context) {
	rng := rand.New(rand.NewSource(s.seed))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec := dataset.Synthetic(rng.Int63(), 1).Records[0]
			req := ScoreRequest{
				Fields:   rec,
				SourceIP: randomIP(rng),
			}
			res, err := s.pipeline.Score(ctx, req)
			if err != nil {
				s.log.Error("simulated score failed", "err", err)
				continue
			}
			s.log.Info("simulated traffic scored",
				"threat", res.Prediction.Class,
				"confidence", res.Prediction.Confidence,
				"alert_id", res.AlertID)
		}
	}
}

func randomIP(rng *rand.Rand) string {
	return fmt.Sprintf("192.168.%d.%d", rng.Intn(256), 1+rng.Intn(254))
}
