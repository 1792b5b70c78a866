// Package server exposes the scoring pipeline over HTTP.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hed1ad/gothreatml/pkg/alerts"
	"github.com/hed1ad/gothreatml/pkg/classifiers"
	"github.com/hed1ad/gothreatml/pkg/detector"
	"github.com/hed1ad/gothreatml/pkg/features"
	"github.com/hed1ad/gothreatml/pkg/service"
)

// Server serves predictions, alert history and live updates.
type Server struct {
	app      *fiber.App
	pipeline *service.Pipeline
	log      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// New builds the HTTP server over a prepared pipeline.
func New(p *service.Pipeline, opts ...Option) *Server {
	s := &Server{
		pipeline: p,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName: "gothreatml",
	})
	s.routes()
	return s
}

// App exposes the underlying fiber app, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.log.Info("http server listening", "addr", addr)
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Post("/predict", s.handlePredict)
	s.app.Get("/alerts", s.handleAlerts)
	s.app.Get("/live", s.handleLive)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(
		s.pipeline.Metrics().Registry(), promhttp.HandlerOpts{})))
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	d := s.pipeline.Detector()
	return c.JSON(fiber.Map{
		"status": "ok",
		"ready":  d.Ready(),
		"models": d.ModelNames(),
	})
}

func (s *Server) handlePredict(c fiber.Ctx) error {
	var req service.ScoreRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	res, err := s.pipeline.Score(c.Context(), req)
	switch {
	case err == nil:
		return c.JSON(res)
	case errors.Is(err, alerts.ErrAppend):
		// The classification still happened; report it with the
		// persistence failure attached.
		s.log.Warn("prediction served without persistence", "err", err)
		return c.JSON(fiber.Map{
			"prediction": res.Prediction,
			"model":      res.Model,
			"warning":    "alert not persisted",
		})
	case errors.Is(err, detector.ErrNotReady):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, detector.ErrEmptyInput),
		errors.Is(err, detector.ErrFeatureCount),
		errors.Is(err, features.ErrSchemaMismatch),
		errors.Is(err, classifiers.ErrUnknownModel):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		s.log.Error("prediction failed", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

func (s *Server) handleAlerts(c fiber.Ctx) error {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	recent, err := s.pipeline.Store().Recent(c.Context(), limit)
	if err != nil {
		s.log.Error("alert query failed", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	if recent == nil {
		recent = []alerts.Alert{}
	}
	return c.JSON(fiber.Map{"alerts": recent, "count": len(recent)})
}

func (s *Server) handleLive(c fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	id, ch, cancel := s.pipeline.Notifier().Subscribe()
	s.log.Info("live subscriber connected", "id", id)

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		for update := range ch {
			data, err := json.Marshal(update)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: threat\ndata: %s\n\n", data); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
}
