package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tessera-crm/tessera/internal/config"
	"github.com/tessera-crm/tessera/internal/logger"
)

// Server exposes the operational endpoints on a dedicated port, kept off the
// public API surface: liveness, readiness and Prometheus metrics.
type Server struct {
	cfg      *config.ObservabilityConfig
	metrics  *Metrics
	checkers []Checker
	srv      *http.Server
}

// probeResult is the readiness response for a single component.
type probeResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewServer builds the admin server. Checkers are probed in parallel on
// every readiness request.
func NewServer(cfg *config.ObservabilityConfig, metrics *Metrics, checkers ...Checker) *Server {
	if cfg == nil {
		panic("observability: config cannot be nil")
	}
	if metrics == nil {
		panic("observability: metrics cannot be nil")
	}

	s := &Server{
		cfg:      cfg,
		metrics:  metrics,
		checkers: checkers,
	}

	r := chi.NewRouter()
	r.Get(cfg.LivenessPath, s.handleLiveness)
	r.Get(cfg.ReadinessPath, s.handleReadiness)
	r.Handle(cfg.MetricsPath, promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}

	return s
}

// Start runs the admin server until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	logger.FromContext(ctx).Info("starting observability server",
		slog.String("port", s.cfg.Port),
	)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("observability server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleLiveness reports process liveness. It always succeeds while the
// server is able to respond.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReadiness probes every registered checker in parallel and reports
// 503 if any dependency is unavailable.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	results := make([]probeResult, len(s.checkers))

	var wg sync.WaitGroup
	for i, c := range s.checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			res := probeResult{Name: c.Name(), Status: "ok"}
			if err != nil {
				res.Status = "unavailable"
				res.Error = err.Error()
				logger.FromContext(r.Context()).Warn("readiness probe failed",
					slog.String("component", c.Name()),
					slog.Duration("elapsed", time.Since(start)),
					slog.Any("error", err),
				)
			}
			results[i] = res
		}(i, c)
	}
	wg.Wait()

	status := http.StatusOK
	overall := "ok"
	for _, res := range results {
		if res.Status != "ok" {
			status = http.StatusServiceUnavailable
			overall = "unavailable"
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     overall,
		"components": results,
	})
}
