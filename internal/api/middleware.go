package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/logging"
	"tradeflow/internal/security"
)

const requestIDHeader = "X-Request-ID"

type workspaceKey struct{}

// workspaceFrom returns the workspace resolved by requireWorkspace.
func workspaceFrom(ctx context.Context) string {
	ws, _ := ctx.Value(workspaceKey{}).(string)
	return ws
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), security.RequestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		logger := s.logger
		if id, ok := r.Context().Value(security.RequestIDKey{}).(string); ok {
			logger = logger.With().Str("request_id", id).Logger()
		}
		next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), logger)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logging.LogRequest(logger, r.Method, r.URL.Path, status, time.Since(start))
	})
}

func (s *Server) requireWorkspace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, ok := s.opts.Resolver.Resolve(r)
		if !ok {
			if err := s.opts.Audit.LogAuthFailed(r.Context(), r.RemoteAddr, r.Header.Get("Authorization")); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to write audit event")
			}
			s.writeError(w, r, apperrors.ErrNoWorkspace)
			return
		}
		ctx := context.WithValue(r.Context(), workspaceKey{}, ws)
		ctx = logging.WithLogger(ctx, logging.WithWorkspace(logging.FromContext(ctx), ws))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ws := workspaceFrom(r.Context())
		if !s.limiter.Allow(ws) {
			if err := s.opts.Audit.LogRateLimited(r.Context(), ws); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to write audit event")
			}
			w.Header().Set("Retry-After", "1")
			s.writeError(w, r, apperrors.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WorkspaceLimiter keeps one token bucket per workspace.
type WorkspaceLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewWorkspaceLimiter creates a limiter allowing rps requests per second
// with the given burst for each workspace.
func NewWorkspaceLimiter(rps float64, burst int) *WorkspaceLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &WorkspaceLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow reports whether workspaceID may make a request now.
func (l *WorkspaceLimiter) Allow(workspaceID string) bool {
	l.mu.Lock()
	now := l.now()
	v, ok := l.visitors[workspaceID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[workspaceID] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Cleanup drops idle workspaces every interval until ctx is done.
func (l *WorkspaceLimiter) Cleanup(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict(idle)
		}
	}
}

func (l *WorkspaceLimiter) evict(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	for ws, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ws)
		}
	}
}
