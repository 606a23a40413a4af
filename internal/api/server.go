// Package api exposes the workflow engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"tradeflow/internal/security"
	"tradeflow/internal/session"
	"tradeflow/internal/workflow"
)

// Defaults for Options left zero.
const (
	DefaultMaxBodyBytes = 2 << 20
	shutdownTimeout     = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
	RateLimit    float64 // requests per second per workspace, 0 disables
	RateBurst    int

	Resolver session.Resolver
	Audit    *security.AuditLogger
	Logger   zerolog.Logger
}

// Server serves the workflow endpoints.
type Server struct {
	engine  *workflow.Engine
	opts    Options
	logger  zerolog.Logger
	limiter *WorkspaceLimiter
	router  chi.Router
}

// NewServer builds the router for engine.
func NewServer(engine *workflow.Engine, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Resolver == nil {
		opts.Resolver = session.Chain{}
	}
	s := &Server{
		engine: engine,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "api").Logger(),
	}
	if opts.RateLimit > 0 {
		s.limiter = NewWorkspaceLimiter(opts.RateLimit, opts.RateBurst)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/workflow", func(r chi.Router) {
		r.Use(s.requireWorkspace)
		r.Use(s.rateLimit)

		r.Post("/events", s.handleIngest)
		r.Get("/packets", s.handleListPackets)
		r.Get("/packets/{id}", s.handleGetPacket)
		r.Get("/operator-state", s.handleOperatorState)
		r.Post("/operator/context", s.handleMergeContext)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}
	if s.limiter != nil {
		go s.limiter.Cleanup(ctx, time.Minute, 3*time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
