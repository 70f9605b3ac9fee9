// Package api serves the member, live channel and collaborator endpoints.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/duet/internal/arbiter"
	"github.com/goodtune/duet/internal/hub"
	"github.com/goodtune/duet/internal/identity"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr      string
	AdminKey        string
	RateLimit       int
	RateLimitWindow time.Duration
	AllowedOrigins  []string
}

// Deps holds the services the routes are wired to.
type Deps struct {
	Arbiter  *arbiter.Service
	Hub      *hub.Hub
	Resolver *identity.Resolver
}

// Server is the API HTTP server.
type Server struct {
	config   Config
	router   *gin.Engine
	limiter  *RateLimiter
	server   *http.Server
	listener net.Listener // pre-created listener from socket activation
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 120
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}

	gin.SetMode(gin.ReleaseMode)

	// No default middleware, requests are logged as JSON by LoggingMiddleware
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:  cfg,
		router:  router,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow),
		logger:  logger.With().Str("component", "api").Logger(),
	}

	SetupRoutes(router, cfg, deps, s.limiter, s.logger)

	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// SetupRoutes registers every route on the Gin engine.
func SetupRoutes(r *gin.Engine, cfg Config, deps Deps, limiter *RateLimiter, logger zerolog.Logger) {
	r.Use(LoggingMiddleware(logger))
	r.Use(MetricsMiddleware())

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(CORSMiddleware(cfg.AllowedOrigins))
	}

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Live channel authenticates from the header or the token query
	// parameter itself, since browsers cannot set headers on websockets
	r.GET("/api/live", RateLimitMiddleware(limiter), gin.WrapH(deps.Hub.ServeWebsocket(deps.Resolver)))

	pairViews := NewPairViews(deps.Arbiter, logger)

	member := r.Group("/api")
	member.Use(MemberAuthMiddleware(deps.Resolver))
	member.Use(RateLimitMiddleware(limiter))
	{
		member.GET("/pair", pairViews.FetchOwn)
		member.POST("/pair/press", pairViews.Press)
		member.POST("/pair/reset", pairViews.Reset)
		member.POST("/pair/consume", pairViews.Consume)
		member.PUT("/pair/push", pairViews.RegisterPush)
		member.PUT("/pair/contact", pairViews.RegisterContact)
		member.GET("/pairs/:id", pairViews.Fetch)
	}

	if cfg.AdminKey == "" {
		logger.Warn().Msg("admin.api_key is not set, admin endpoints are disabled")
		return
	}

	adminViews := NewAdminViews(deps.Arbiter, deps.Resolver, logger)

	admin := r.Group("/api/admin")
	admin.Use(RateLimitMiddleware(limiter))
	admin.Use(AdminKeyMiddleware(cfg.AdminKey))
	{
		admin.POST("/pairs", adminViews.CreatePair)
		admin.GET("/pairs/:id", adminViews.GetPair)
		admin.PUT("/pairs/:id/plan", adminViews.SetPlan)
		admin.POST("/pairs/:id/tokens", adminViews.IssueTokens)
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")
	s.limiter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}
