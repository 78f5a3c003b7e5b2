// Package web exposes the matcher over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/menta2k/parcel-matcher/internal/config"
	"github.com/menta2k/parcel-matcher/pkg/processing"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

// Matcher is the part of the pipeline the server needs
type Matcher interface {
	Match(ctx context.Context, query, reference image.Image) (*types.MatchResult, error)
	Detect(ctx context.Context, img image.Image) ([]types.Detection, error)
}

// Server represents the web server
type Server struct {
	// mu serializes pipeline calls; the models bind fixed tensors
	mu         sync.Mutex
	matcher    Matcher
	processor  *processing.Processor
	maxUpload  int64
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server
func NewServer(cfg config.ServerConfig, m Matcher) *Server {
	r := chi.NewRouter()

	s := &Server{
		matcher:   m,
		processor: processing.NewProcessor(),
		maxUpload: int64(cfg.MaxUploadMB) << 20,
		router:    r,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	if cfg.WriteTimeout > 0 {
		r.Use(chiMiddleware.Timeout(cfg.WriteTimeout))
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout + 10*time.Second, // leave room for the timeout response
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.Health)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.Health)
		r.Post("/match", s.Match)
		r.Post("/detect", s.Detect)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
