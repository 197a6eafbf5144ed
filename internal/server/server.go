// Package server provides the operator HTTP surface for fundsync.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/aristath/fundsync/internal/domain"
)

// RecordReader reads stored fund data.
type RecordReader interface {
	GetByKey(ctx context.Context, key domain.RecordKey) (*domain.FundDataRecord, error)
	GetBySourceObject(ctx context.Context, sourceObjectKey string) ([]domain.FundDataRecord, error)
}

// Syncer synchronises one object on demand.
type Syncer interface {
	SyncObject(ctx context.Context, ref domain.ObjectRef) (*domain.SyncResult, error)
}

// Checker reports whether the relational store is reachable.
type Checker interface {
	QuickCheck(ctx context.Context) error
}

// Config holds server configuration
type Config struct {
	Log     zerolog.Logger
	DB      Checker
	Records RecordReader
	Syncer  Syncer
	Port    int
	// RequestTimeout bounds every request, including manual syncs.
	RequestTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	cfg         Config
	system      *SystemHandlers
	startupTime time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}

	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		cfg:         cfg,
		startupTime: time.Now(),
	}
	s.system = NewSystemHandlers(s.startupTime, s.log)

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(s.cfg.RequestTimeout))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.system.HandleHealth)
	s.router.Get("/readyz", s.handleReady)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/records", func(r chi.Router) {
			r.Get("/", s.handleListRecords)
			r.Get("/{trade_date}/{stock}/{ticker}/{col_code}", s.handleGetRecord)
		})
		r.Post("/sync", s.handleSync)
	})
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
