package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gilchrisn/budgeted-influence-service/pkg/imm"
	"github.com/gilchrisn/budgeted-influence-service/pkg/telemetry"
)

// SetupRoutes registers the v1 API on router.
func SetupRoutes(router *mux.Router, handlers *Handlers) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	api.HandleFunc("/solvers", handlers.ListSolvers).Methods(http.MethodGet)

	graphs := api.PathPrefix("/graphs").Subrouter()
	graphs.HandleFunc("", handlers.ListGraphs).Methods(http.MethodGet)
	graphs.HandleFunc("", handlers.LoadGraph).Methods(http.MethodPost)
	graphs.HandleFunc("/upload", handlers.UploadGraph).Methods(http.MethodPost)
	graphs.HandleFunc("/{graphId}", handlers.GetGraph).Methods(http.MethodGet)
	graphs.HandleFunc("/{graphId}", handlers.DeleteGraph).Methods(http.MethodDelete)
	graphs.HandleFunc("/{graphId}/seeds", handlers.SelectSeeds).Methods(http.MethodPost)
	graphs.HandleFunc("/{graphId}/spread", handlers.EstimateSpread).Methods(http.MethodPost)
}

// ServerOptions configure NewServer.
type ServerOptions struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Origins      []string
}

// Server is the HTTP front end of a Registry.
type Server struct {
	Registry *Registry
	http     *http.Server
	logger   zerolog.Logger
}

// NewServer wires the registry, handlers, middleware stack and the /metrics
// endpoint of collector.
func NewServer(config *imm.Config, collector *telemetry.Collector, logger zerolog.Logger, opts ServerOptions) *Server {
	registry := NewRegistry(config, logger, collector)
	handlers := NewHandlers(registry, config, logger)

	router := mux.NewRouter()
	SetupRoutes(router, handlers)
	router.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	router.Use(LoggingMiddleware(logger))
	router.Use(RecoveryMiddleware(logger))

	return &Server{
		Registry: registry,
		logger:   logger,
		http: &http.Server{
			Addr:         opts.Address,
			Handler:      CORS(opts.Origins)(router),
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
	}
}

// Handler is the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.http.Addr).Msg("HTTP server starting")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("Server shutdown complete")
	return nil
}
