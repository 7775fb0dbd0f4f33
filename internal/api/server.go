package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/internal/config"
	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
	"github.com/mev-engine/solana-mev-pipeline/pkg/mempool"
	"github.com/mev-engine/solana-mev-pipeline/pkg/metrics"
	"github.com/mev-engine/solana-mev-pipeline/pkg/risk"
)

// Deps are the read-only views the status API exposes.
type Deps struct {
	Collector *metrics.Collector
	Alerts    *metrics.AlertManager
	Router    interfaces.EndpointRouter
	Gate      *risk.Gate
	Stream    *mempool.Stream

	// Gatherer serves /metrics. Nil falls back to the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the read-only status API. It never mutates pipeline state.
type Server struct {
	config    *config.ServerConfig
	deps      Deps
	logger    *zap.Logger
	server    *http.Server
	startedAt time.Time
}

// NewServer creates the status API server.
func NewServer(cfg *config.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:    cfg,
		deps:      deps,
		logger:    logger.Named("api"),
		startedAt: time.Now(),
	}
	s.setupServer()
	return s
}

// Start begins serving. Non-blocking; listen errors are logged.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting status API",
		zap.String("host", s.config.Host),
		zap.Int("port", s.config.Port))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status API listen failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping status API")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown status API: %w", err)
	}
	return nil
}

// Handler exposes the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetStream attaches the transaction stream after construction. The stream
// depends on the pipeline, which depends on this server.
func (s *Server) SetStream(stream *mempool.Stream) {
	s.deps.Stream = stream
}

func (s *Server) setupServer() {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/metrics/json", s.handleMetricsJSON).Methods("GET")
	router.HandleFunc("/alerts", s.handleAlerts).Methods("GET")

	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      c.Handler(router),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapper.statusCode),
			zap.Duration("duration", time.Since(start)))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
