package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soundprediction/strata"
	"github.com/soundprediction/strata/pkg/config"
	"github.com/soundprediction/strata/pkg/server/handlers"
	"github.com/soundprediction/strata/pkg/types"
)

// Server represents the HTTP server
type Server struct {
	config *config.Config
	router *gin.Engine
	engine strata.Engine
	server *http.Server
	logger *slog.Logger
}

// New creates a new server instance
func New(cfg *config.Config, engine strata.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		engine: engine,
		logger: logger,
	}
}

// Handler returns the router; Setup must have been called.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Setup sets up the server routes and middleware
func (s *Server) Setup() {
	if s.config.Server.Mode != "" {
		gin.SetMode(s.config.Server.Mode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(s.logger))
	s.router.Use(corsMiddleware())
	s.router.Use(contextMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// setupRoutes sets up all the routes
func (s *Server) setupRoutes() {
	var checker handlers.ReadinessChecker
	if rc, ok := s.engine.(handlers.ReadinessChecker); ok {
		checker = rc
	}
	healthHandler := handlers.NewHealthHandler(checker)

	// Health endpoints
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)
	s.router.GET("/live", healthHandler.LivenessCheck) // Kubernetes liveness probe
	s.router.GET("/health/detailed", healthHandler.DetailedHealthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.engine == nil {
		return
	}
	ingestHandler := handlers.NewIngestHandler(s.engine, s.logger)
	retrieveHandler := handlers.NewRetrieveHandler(s.engine, s.logger)
	skeletonHandler := handlers.NewSkeletonHandler(s.engine, s.logger)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/retrieve", retrieveHandler.Retrieve)
		v1.POST("/traverse", retrieveHandler.Traverse)

		v1.POST("/ingest", ingestHandler.IngestDocument)
		v1.DELETE("/documents/:tenant_id/:document_id", ingestHandler.DeleteDocument)

		entities := v1.Group("/entities")
		{
			entities.POST("/resolve", ingestHandler.ResolveEntity)
			entities.GET("/review/:tenant_id", ingestHandler.ReviewQueue)
		}

		skeleton := v1.Group("/skeleton")
		{
			skeleton.GET("/:tenant_id", skeletonHandler.Snapshot)
			skeleton.POST("/:tenant_id/recompute", skeletonHandler.Recompute)
		}
	}
}

// Start starts the server
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")
	return s.server.Shutdown(ctx)
}

// requestLogger logs one line per request
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"tenant_id", c.GetHeader(handlers.TenantHeader),
			"duration", time.Since(start))
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Tenant-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// contextMiddleware extracts context information from headers
func contextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if tenantID := c.GetHeader(handlers.TenantHeader); tenantID != "" {
			ctx = context.WithValue(ctx, types.ContextKeyTenantID, tenantID)
		}
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			ctx = context.WithValue(ctx, types.ContextKeyUserID, userID)
		}
		if sessionID := c.GetHeader("X-Session-ID"); sessionID != "" {
			ctx = context.WithValue(ctx, types.ContextKeySessionID, sessionID)
		}
		ctx = context.WithValue(ctx, types.ContextKeyRequestSource, "server")

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
