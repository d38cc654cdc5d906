// Package server provides the HTTP API for the shashin gallery.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/ingest"
	"github.com/hyperjump/shashin/internal/search"
)

// OwnerHeader carries the trusted owner id set by the fronting identity layer.
const OwnerHeader = "X-Owner-ID"

// WatchService exposes the import directories being watched.
type WatchService interface {
	Directories() []string
}

// Server is the HTTP server for the gallery API.
type Server struct {
	engine   *search.Engine
	ingester *ingest.Ingester
	config   *config.Config
	logger   *zap.Logger
	watch    WatchService
	server   *http.Server
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(
	engine *search.Engine,
	ingester *ingest.Ingester,
	cfg *config.Config,
	logger *zap.Logger,
	watch WatchService,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:   engine,
		ingester: ingester,
		config:   cfg,
		logger:   logger,
		watch:    watch,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5, "application/json"))

	r.Get("/health", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)
	r.Route("/api/v1/media", func(r chi.Router) {
		r.Use(s.requireOwner)
		r.Get("/", s.handleSearch)
		r.Post("/", s.handleUpload)
		r.Get("/{id}", s.handleGetAsset)
		r.Get("/{id}/content", s.handleGetContent)
		r.Patch("/{id}", s.handleRetitle)
		r.Delete("/{id}", s.handleDelete)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
