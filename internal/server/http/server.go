// Package httpserver provides the HTTP import API for reference ingestion.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/helixir/reference-ingestion/internal/ingestion"
)

// Importer runs imports. *ingestion.Importer satisfies it.
type Importer interface {
	ImportSearch(ctx context.Context, term string) (*ingestion.Import, error)
	ImportIDs(ctx context.Context, ids []int) (*ingestion.Import, error)
	ImportRIS(ctx context.Context, r io.Reader) (*ingestion.Import, error)
}

// Counter reports the number of records matching a search term.
// *pubmed.SearchClient satisfies it.
type Counter interface {
	Count(ctx context.Context, term string) (int, error)
}

// Server is the HTTP import API server.
type Server struct {
	router         chi.Router
	httpServer     *http.Server
	importer       Importer
	counter        Counter
	maxUploadBytes int64
	logger         zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

// NewServer creates a new HTTP server. counter may be nil, in which case the
// count endpoint reports the search source as unavailable.
func NewServer(cfg Config, importer Importer, counter Counter, logger zerolog.Logger) *Server {
	s := &Server{
		importer:       importer,
		counter:        counter,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         logger.With().Str("component", "http-server").Logger(),
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.requestLogMiddleware)
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/imports/search", s.importSearch)
		r.Post("/imports/ids", s.importIDs)
		r.Post("/imports/ris", s.importRIS)
		r.Get("/searches/count", s.countSearch)
		r.Post("/searches/diff", s.diffSearch)
	})

	return r
}

// Handler returns the router. It is used by tests and by callers embedding
// the API in another server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports which import paths are available.
func (s *Server) readinessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"search": s.counter != nil,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
