// Package server provides the dashboard HTTP API over the key and usage
// services. Every route except /health requires the management bearer token.
package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/liveyourdreams/backoffice-metering/internal/apikey"
	"github.com/liveyourdreams/backoffice-metering/internal/config"
	"github.com/liveyourdreams/backoffice-metering/internal/usage"
)

// Server is the dashboard API HTTP server.
type Server struct {
	server *http.Server
	engine *gin.Engine
	keys   *apikey.Service
	usage  *usage.Service
	logger *zap.Logger
	token  string
}

// New creates the dashboard server with routes configured.
func New(cfg *config.Config, keys *apikey.Service, usageSvc *usage.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		keys:   keys,
		usage:  usageSvc,
		logger: logger,
		token:  cfg.ManagementToken,
		server: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      engine,
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
	s.setupRoutes()

	return s
}

// Start blocks serving requests until shutdown or listener failure.
func (s *Server) Start() error {
	s.logger.Info("dashboard api listening", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the route tree. Used by tests with httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.Use(s.requireManagementToken())
	{
		api.GET("/keys", s.handleListKeys)
		api.POST("/keys", s.handleCreateKey)
		api.GET("/keys/:id", s.handleKeyStats)
		api.DELETE("/keys/:id", s.handleDeactivateKey)

		api.POST("/usage", s.handleLogUsage)
		api.GET("/usage/monthly/:keyID", s.handleMonthlyUsage)
		api.GET("/usage/daily", s.handleDailyUsage)
		api.GET("/usage/features", s.handleFeatureBreakdown)
		api.GET("/usage/recent", s.handleRecentCalls)
		api.GET("/usage/overall", s.handleOverallStats)
	}
}

// requireManagementToken enforces bearer auth with a constant-time compare.
func (s *Server) requireManagementToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "management token not configured"})
			return
		}

		header := c.GetHeader("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
