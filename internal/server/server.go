// Package server provides the HTTP API for Tsutsumi.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/tsutsumi/internal/config"
	"github.com/hyperjump/tsutsumi/internal/ingest"
	"github.com/hyperjump/tsutsumi/internal/retrieval"
	"github.com/hyperjump/tsutsumi/internal/storage"
	"github.com/hyperjump/tsutsumi/internal/watcher"
)

// Server is the HTTP server for the Tsutsumi API.
type Server struct {
	ingest    *ingest.Service
	router    *retrieval.Router
	assembler *retrieval.Assembler
	storage   storage.Storage
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server

	watch        *watcher.Watcher
	configPath   string
	watchConfigM sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithWatcher attaches a directory watcher whose roots can be managed over
// the API. configPath, when non-empty, is where watch directory changes are
// persisted.
func WithWatcher(w *watcher.Watcher, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(
	svc *ingest.Service,
	router *retrieval.Router,
	assembler *retrieval.Assembler,
	store storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		ingest:    svc,
		router:    router,
		assembler: assembler,
		storage:   store,
		config:    cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the chi router with all API endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/process", s.handleProcess)
	r.Post("/api/v1/batch", s.handleBatch)
	r.Post("/api/v1/retrieve", s.handleRetrieve)
	r.Get("/api/v1/envelope/{id}", s.handleGetEnvelope)
	r.Delete("/api/v1/envelope/{id}", s.handleDeleteEnvelope)
	r.Get("/api/v1/anchor/{envelopeID}/{anchorID}", s.handleGetAnchor)
	r.Get("/api/v1/entities", s.handleEntities)
	r.Get("/api/v1/stats", s.handleStats)
	r.Get("/api/v1/watch/directories", s.handleWatchList)
	r.Post("/api/v1/watch/directories", s.handleWatchAdd)
	r.Delete("/api/v1/watch/directories", s.handleWatchRemove)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
