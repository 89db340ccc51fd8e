// Package server provides the HTTP server of the senas service.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ayusman/senas/internal/inference"
	"github.com/ayusman/senas/internal/metrics"
	"github.com/ayusman/senas/internal/server/api"
	"github.com/ayusman/senas/internal/store"
)

// Config holds the server configuration. Only Service is required; the
// routes backed by the other fields are registered when they are set.
type Config struct {
	StaticDir string
	Service   *inference.Service
	Store     *store.Store
	Hub       *Hub
	Frames    Snapshotter

	// RateLimit is the sustained predict rate per second; <= 0 disables it.
	RateLimit float64
	Burst     int

	Logger *zap.Logger
}

// Server is the HTTP front of the inference service.
type Server struct {
	config Config
	log    *zap.Logger
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		config: config,
		log:    log,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.handle("/api/health", http.HandlerFunc(s.handleHealth))
	s.mux.Handle("/metrics", promhttp.Handler())

	if s.config.Service != nil {
		limiter := rate.NewLimiter(rate.Inf, 0)
		if s.config.RateLimit > 0 {
			burst := s.config.Burst
			if burst <= 0 {
				burst = 1
			}
			limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), burst)
		}
		predict := api.NewPredictHandler(s.config.Service, limiter, s.log)
		s.handle("/predict_hand_pose", predict)
		s.handle("/api/predict", predict)

		model := api.NewModelHandler(s.config.Service)
		s.handle("/api/model", model)
		s.handle("/api/model/", model)
	}

	if s.config.Store != nil {
		samples := api.NewSamplesHandler(s.config.Store, s.log)
		s.handle("/api/samples", samples)
		s.handle("/api/samples/", samples)

		runs := api.NewRunsHandler(s.config.Store)
		s.handle("/api/runs", runs)
		s.handle("/api/runs/", runs)
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/live", s.config.Hub)
	}
	if s.config.Frames != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Frames))
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// handle registers h under pattern and records request metrics labelled
// with the pattern rather than the raw path.
func (s *Server) handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		metrics.ObserveRequest(pattern, r.Method, rec.status, time.Since(start))
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Service != nil {
		response["model"] = s.config.Service.State()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != http.ErrServerClosed {
		return err
	}
	return nil
}
