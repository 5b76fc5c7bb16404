// Package receiver implements the webhook HTTP surface: per-source receipt,
// verification, audit, and workflow dispatch.
//
// Each request runs its state machine sequentially:
//
//	received -> signature_failed | verified
//	verified -> logged_only | processed | workflow_failed
//
// No state is shared between requests beyond the audit store and the CI
// system, so the handler itself needs no locking.
package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/parishworks/hookgate/internal/config"
	"github.com/parishworks/hookgate/internal/metrics"
)

type ctxKey int

const requestIDKey ctxKey = 0

// Server is the webhook HTTP server.
type Server struct {
	cfg        *config.Config
	verifier   Verifier
	auditor    Auditor
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	server     *http.Server

	// sources maps lowercase tags to their configuration
	sources map[string]*config.SourceConfig
}

// New creates a webhook server. All collaborators are injected; the server
// owns no hidden globals.
func New(cfg *config.Config, verifier Verifier, auditor Auditor, dispatcher Dispatcher, m *metrics.Metrics, logger *slog.Logger) *Server {
	sources := make(map[string]*config.SourceConfig, len(cfg.Sources))
	for i := range cfg.Sources {
		sources[cfg.Sources[i].Tag] = &cfg.Sources[i]
	}
	return &Server{
		cfg:        cfg,
		verifier:   verifier,
		auditor:    auditor,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		sources:    sources,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting",
		"listen", s.cfg.Listen,
		"stage", s.cfg.Stage,
		"sources", len(s.sources),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post("/webhook/{source}", s.handleWebhook)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	return r
}

// requestIDMiddleware generates a fresh uuid per request and sets it on the
// response. Upstream-provided ids are kept only in the audited headers.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFrom(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleHealth handles GET /health (no auth).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Stage:     s.cfg.Stage,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
