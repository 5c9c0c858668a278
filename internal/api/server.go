package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/impulso-energetico/comision/internal/domain"
	"github.com/impulso-energetico/comision/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, store domain.Store, cache domain.Cache, bus domain.EventBus, resolver *rules.Resolver, admin *rules.Service, version string) *Server {
	handler := NewHandler(store, cache, bus, resolver, admin, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no identity required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (resolved scope required)
	router.Route("/", func(r chi.Router) {
		r.Use(PrincipalMiddleware)

		// Resolution and calculation
		r.Post("/resolve", handler.Resolve)
		r.Post("/calculate", handler.Calculate)

		// Settlements
		r.Post("/settlements", handler.Settle)
		r.Get("/settlements/{id}", handler.GetSettlement)

		// Rule administration
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Patch("/rules/{id}", handler.UpdateRule)
		r.Post("/rules/{id}/active", handler.SetRuleActive)
		r.Post("/rules/fill-missing", handler.FillMissing)

		// Catalog
		r.Get("/sections", handler.ListSections)
		r.Post("/sections", handler.SaveSection)
		r.Get("/sections/{id}/subsections", handler.ListSubSections)
		r.Post("/sections/{id}/subsections", handler.SaveSubSection)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
