// Package httpapi is the webhook surface: the JSON-RPC /invoke endpoint plus
// the manifest and liveness routes, served through gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"sage/internal/a2a"
	"sage/internal/config"
	"sage/internal/logging"
	"sage/internal/server/app"
)

// InvokeHandler is the dispatcher slice the transport needs.
type InvokeHandler interface {
	Handle(ctx context.Context, req app.Request) a2a.Response
}

// Server owns the gin engine and its routes.
type Server struct {
	cfg        *config.Config
	dispatcher InvokeHandler
	logger     logging.Logger
	engine     *gin.Engine
	startTime  time.Time
}

// NewServer builds the engine with middleware and routes registered.
func NewServer(cfg *config.Config, dispatcher InvokeHandler, logger logging.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(RequestIDMiddleware())
	engine.Use(gin.Logger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Authorization",
		"X-Deployment-Label", "X-Session-Id",
		"X-User-Id", "X-Org-Id", "X-Workspace-Id",
		"X-Telex-User-Id", "X-Telex-Org-Id",
	}
	engine.Use(cors.New(corsConfig))

	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logging.OrNop(logger),
		engine:     engine,
		startTime:  time.Now(),
	}

	// Faults surface as in-envelope -32603 at HTTP 200, never as a 5xx.
	engine.Use(gin.CustomRecovery(func(c *gin.Context, err any) {
		s.logger.Error("panic in %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusOK, a2a.NewError(nil, a2a.CodeInternalError, "Internal error"))
		c.Abort()
	}))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.POST("/invoke", s.handleInvoke)
	s.engine.POST("/help", s.handleHelp)

	s.engine.GET("/agent.json", s.handleManifest)
	s.engine.GET("/.well-known/agent.json", s.handleManifest)

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/", s.handleRoot)
}

// Handler exposes the engine for an http.Server or a test recorder.
func (s *Server) Handler() http.Handler {
	return s.engine
}
