// Package server is the HTTP front end: one chi router carrying the three
// protocol surfaces, the admin endpoints, and the lifecycle endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/quota"
	"github.com/routecodex/routecodex/internal/router"
)

// Server hosts the gateway HTTP surface.
type Server struct {
	Router *chi.Mux
	Port   int

	pipeline       *pipeline.Pipeline
	router         *router.Router
	quota          *quota.Daemon
	interactions   InteractionReader
	logger         *slog.Logger
	requestTimeout time.Duration
	started        time.Time
	shutdown       func()

	httpServer *http.Server
}

// InteractionReader serves the admin interaction log. Nil disables the
// endpoint's data source; it then reports an empty list.
type InteractionReader interface {
	Recent(ctx context.Context, limit int) ([]pipeline.Interaction, error)
}

// Options wires the server's collaborators.
type Options struct {
	Port           int
	APIKeys        []string
	RequestTimeout time.Duration
	Pipeline       *pipeline.Pipeline
	Router         *router.Router
	Quota          *quota.Daemon
	Interactions   InteractionReader
	Logger         *slog.Logger

	// Shutdown is invoked when POST /shutdown is accepted.
	Shutdown func()
}

// New builds the server and mounts all routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Port:           opts.Port,
		pipeline:       opts.Pipeline,
		router:         opts.Router,
		quota:          opts.Quota,
		interactions:   opts.Interactions,
		logger:         logger,
		requestTimeout: opts.RequestTimeout,
		started:        time.Now(),
		shutdown:       opts.Shutdown,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "routecodex")
	})

	r.Get("/health", s.handleHealth)
	r.Post("/shutdown", s.handleShutdown)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(opts.APIKeys))
		r.Post("/v1/chat/completions", s.handleCompletion("/v1/chat/completions", domain.ProtocolOpenAIChat))
		r.Post("/v1/responses", s.handleCompletion("/v1/responses", domain.ProtocolResponses))
		r.Post("/v1/responses/{id}/submit_tool_outputs", s.handleSubmitToolOutputs)
		r.Post("/v1/messages", s.handleCompletion("/v1/messages", domain.ProtocolAnthropic))
		r.Get("/v1/models", s.handleModels)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/providers", s.handleAdminProviders)
			r.Get("/routes", s.handleAdminRoutes)
			r.Post("/providers/{key}/disable", s.handleAdminDisable)
			r.Post("/providers/{key}/recover", s.handleAdminRecover)
			r.Post("/providers/{key}/reset", s.handleAdminReset)
			r.Get("/interactions", s.handleAdminInteractions)
		})
	})

	s.Router = r
	return s
}

// Start listens until the context is cancelled, then drains gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.Int("port", s.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
