package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"quizportal/backend/internal/config"
	"quizportal/backend/internal/logging"
	authusecase "quizportal/backend/internal/usecase/auth"
	userusecase "quizportal/backend/internal/usecase/user"
)

// HealthCheck reports whether a backing store is reachable.
type HealthCheck func(ctx context.Context) error

// Server wraps the HTTP server lifecycle.
type Server struct {
	httpServer  *http.Server
	router      *http.ServeMux
	authService *authusecase.Service
	userService *userusecase.Service
	log         logging.Logger
	cookies     cookieConfig
	health      HealthCheck
	addr        string
}

// NewServer constructs a new Server with configured dependencies. health may be nil.
func NewServer(cfg config.Config, log logging.Logger, authService *authusecase.Service, userService *userusecase.Service, health HealthCheck) *Server {
	mux := http.NewServeMux()
	addr := cfg.HTTPPort
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	if log == nil {
		log = logging.Nop()
	}

	srv := &Server{
		router:      mux,
		authService: authService,
		userService: userService,
		log:         log.With("component", "http"),
		cookies: cookieConfig{
			enabled: cfg.UseCookies,
			secure:  cfg.IsProduction(),
			ttl:     cfg.CookieTTL,
		},
		health: health,
		addr:   addr,
	}

	handler := srv.withRecovery(srv.withLogging(withCORS(mux, cfg.AllowedOrigins)))
	srv.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSec) * time.Second,
	}
	srv.registerRoutes()
	return srv
}

// Start bootstraps the HTTP server on the configured address.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured network address for the HTTP server.
func (s *Server) Addr() string {
	return s.addr
}
