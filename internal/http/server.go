package http

import (
	"context"
	"net/http"
	"sync"

	"tally/internal/auth"
	"tally/internal/log"
	"tally/internal/metrics"
	"tally/internal/middleware/ratelimit"
	"tally/internal/middleware/security"
	"tally/internal/middleware/trace"
	"tally/internal/services"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server

	engine     *services.Engine
	users      *services.UserService
	categories *services.CategoryService
	jwt        *auth.JWTManager
	store      Pinger

	rateLimiter  *ratelimit.Limiter
	logger       *log.Logger
	shutdownOnce sync.Once
}

// Config holds the server's wiring.
type Config struct {
	Addr              string
	RequestsPerMinute int

	Engine     *services.Engine
	Users      *services.UserService
	Categories *services.CategoryService
	JWT        *auth.JWTManager
	Store      Pinger
	Logger     *log.Logger
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(cfg Config) *Server {
	s := &Server{
		engine:     cfg.Engine,
		users:      cfg.Users,
		categories: cfg.Categories,
		jwt:        cfg.JWT,
		store:      cfg.Store,
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RequestsPerMinute,
		}),
		logger: cfg.Logger.WithComponent(log.ComponentHTTP),
	}

	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	// Authenticated
	mux.HandleFunc("GET /users/me", s.requireAuth(s.handleMe))
	mux.HandleFunc("POST /funds", s.requireAuth(s.handleAddFunds))
	mux.HandleFunc("POST /expenses", s.requireAuth(s.handleCreateExpense))
	mux.HandleFunc("GET /expenses", s.requireAuth(s.handleListExpenses))
	mux.HandleFunc("GET /summary", s.requireAuth(s.handleMonthSummary))
	mux.HandleFunc("GET /expenses/{ref}", s.requireAuth(s.handleGetExpense))
	mux.HandleFunc("PUT /expenses/{ref}", s.requireAuth(s.handleUpdateExpense))
	mux.HandleFunc("DELETE /expenses/{ref}", s.requireAuth(s.handleDeleteExpense))
	mux.HandleFunc("GET /categories", s.requireAuth(s.handleListCategories))

	// Admin
	mux.HandleFunc("POST /categories", s.requireAdmin(s.handleCreateCategory))
	mux.HandleFunc("PUT /categories/{id}", s.requireAdmin(s.handleUpdateCategory))
	mux.HandleFunc("DELETE /categories/{id}", s.requireAdmin(s.handleDeleteCategory))
	mux.HandleFunc("GET /admin/users", s.requireAdmin(s.handleListUsers))
	mux.HandleFunc("DELETE /admin/users/{username}", s.requireAdmin(s.handleDeleteUser))
	mux.HandleFunc("POST /admin/promote", s.requireAdmin(s.handlePromote))
	mux.HandleFunc("GET /admin/expenses", s.requireAdmin(s.handleAdminExpenses))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	detector := security.NewDetector()
	tracer := trace.NewMiddleware(detector.ClientIP)

	var handler http.Handler = mux
	handler = metrics.Middleware(handler)
	handler = log.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(handler)
	handler = log.Middleware(s.logger)(handler)
	handler = tracer.Middleware(handler)
	handler = s.rateLimiter.Middleware(detector.ClientIP, nil)(handler)
	handler = s.detectionMiddleware(detector)(handler)
	handler = headers.Middleware(handler)

	s.Server = http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// detectionMiddleware logs and counts requests matching probe patterns.
// They still pass through; the handlers reject anything malformed.
func (s *Server) detectionMiddleware(detector *security.Detector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if detector.Suspicious(r) {
				metrics.SuspiciousRequests.Inc()
				s.logger.Warn("Suspicious request",
					"method", r.Method,
					"path", r.URL.Path,
					log.FieldClientIP, detector.ClientIP(r))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
