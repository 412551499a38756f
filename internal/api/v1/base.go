// Package v1 implements the admission API: request shape validation,
// delegation to the workflow engine and registry, and translation of engine
// errors into the status codes described by the execution core's contract.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cloudshipai/workflowcore/internal/db/repositories"
	"github.com/cloudshipai/workflowcore/pkg/engine"
	"github.com/cloudshipai/workflowcore/pkg/registry"
)

// APIHandlers holds the dependencies every v1 route needs.
type APIHandlers struct {
	repos    *repositories.Repositories
	registry *registry.Registry
	engine   *engine.Engine
}

func NewAPIHandlers(repos *repositories.Repositories, reg *registry.Registry, eng *engine.Engine) *APIHandlers {
	return &APIHandlers{repos: repos, registry: reg, engine: eng}
}

// RegisterRoutes wires every v1 route onto router.
func (h *APIHandlers) RegisterRoutes(router *gin.RouterGroup) {
	h.registerWorkflowRoutes(router)
	h.registerPluginRoutes(router)

	router.GET("/stats", h.getStats)
	router.GET("/health", h.getHealth)
}

// getHealth combines store reachability, the engine running flag, and a
// plugin count into one aggregated readiness signal.
func (h *APIHandlers) getHealth(c *gin.Context) {
	ctx := c.Request.Context()

	plugins, err := h.registry.List(ctx)
	storeOK := err == nil

	status := http.StatusOK
	state := "ok"
	if !storeOK || !h.engine.IsRunning() {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(status, gin.H{
		"status":       state,
		"store":        storeOK,
		"engineActive": h.engine.IsRunning(),
		"plugins":      len(plugins),
	})
}

func (h *APIHandlers) getStats(c *gin.Context) {
	ctx := c.Request.Context()

	queueStats, err := h.engine.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load queue stats"})
		return
	}

	executionStats, err := h.engine.ExecutionStats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load execution stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"queue": queueStats, "executions": executionStats})
}
