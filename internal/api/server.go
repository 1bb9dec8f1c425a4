package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/fly-screenshotter/internal/config"
	"github.com/JakeFAU/fly-screenshotter/internal/metrics"
	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

const defaultEnqueueTimeout = 2 * time.Second

// Enqueuer accepts capture requests for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, req screenshot.CaptureRequest) error
}

// ReadinessFunc reports whether the service can accept work.
type ReadinessFunc func(ctx context.Context) error

// Server wires HTTP handlers to the capture queue.
type Server struct {
	router    chi.Router
	queue     Enqueuer
	clock     screenshot.Clock
	ready     ReadinessFunc
	validate  *validator.Validate
	target    screenshot.TargetSpec
	enqueueTO time.Duration
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	queue Enqueuer,
	idGen screenshot.IDGenerator,
	clock screenshot.Clock,
	ready ReadinessFunc,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	enqueueTO := cfg.Server.EnqueueTimeout
	if enqueueTO <= 0 {
		enqueueTO = defaultEnqueueTimeout
	}
	s := &Server{
		queue:     queue,
		clock:     clock,
		ready:     ready,
		validate:  newValidator(),
		target:    cfg.Target.Spec(),
		enqueueTO: enqueueTO,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(idGen, logger))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if len(cfg.Server.CORSOrigins) > 0 {
			r.Use(corsMiddleware(cfg.Server.CORSOrigins))
		}
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/fly/take-screenshot", s.takeScreenshot)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) takeScreenshot(w http.ResponseWriter, r *http.Request) {
	body, err := decodeScreenshotRequest(s.validate, w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := screenshot.CaptureRequest{
		ID:         requestIDFromContext(r.Context()),
		ProjectID:  body.ProjectID,
		ReceivedAt: s.clock.Now(),
	}
	endpoint := s.target.Endpoint(req.ProjectID)
	log := s.logger.With(
		zap.String("request_id", req.ID),
		zap.String("project_id", req.ProjectID),
	)

	ctx, cancel := context.WithTimeout(r.Context(), s.enqueueTO)
	defer cancel()
	if err := s.queue.Enqueue(ctx, req); err != nil {
		metrics.ObserveQueueRejection()
		log.Warn("capture rejected", zap.Error(err))
		msg := "capture queue is full, retry later"
		if errors.Is(err, screenshot.ErrQueueClosed) {
			msg = "service is shutting down"
		}
		writeError(w, http.StatusServiceUnavailable, msg)
		return
	}

	log.Info("capture accepted", zap.String("app_name", endpoint.AppName()))
	writeJSON(w, http.StatusOK, screenshotResponse{
		Status:    "processing",
		AppName:   endpoint.AppName(),
		ProjectID: req.ProjectID,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
