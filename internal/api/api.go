// Package api provides the HTTP admission surface for the execution core.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	v1 "github.com/cloudshipai/workflowcore/internal/api/v1"
	"github.com/cloudshipai/workflowcore/internal/config"
	"github.com/cloudshipai/workflowcore/internal/db/repositories"
	"github.com/cloudshipai/workflowcore/internal/logging"
	"github.com/cloudshipai/workflowcore/pkg/engine"
	"github.com/cloudshipai/workflowcore/pkg/registry"
)

const shutdownGrace = 5 * time.Second

// Server is the Gin-backed admission API: validation and status endpoints
// that sit in front of the engine and registry.
type Server struct {
	cfg        *config.Config
	repos      *repositories.Repositories
	registry   *registry.Registry
	engine     *engine.Engine
	httpServer *http.Server
}

func New(cfg *config.Config, repos *repositories.Repositories, reg *registry.Registry, eng *engine.Engine) *Server {
	return &Server{cfg: cfg, repos: repos, registry: reg, engine: eng}
}

// Start blocks until ctx is cancelled, then shuts the server down with a
// grace period for in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, "/internal") {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		}
		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "workflowcore-api"})
	})

	apiGroup := router.Group("/api")
	v1.NewAPIHandlers(s.repos, s.registry, s.engine).RegisterRoutes(apiGroup)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logging.Info("api: listening on %s", s.httpServer.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("api: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
