package v1

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cloudshipai/workflowcore/pkg/engine"
	"github.com/cloudshipai/workflowcore/pkg/models"
)

var workflowNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type submitWorkflowRequest struct {
	Name  string        `json:"name" binding:"required"`
	Steps []models.Step `json:"steps" binding:"required"`
}

func (h *APIHandlers) registerWorkflowRoutes(router *gin.RouterGroup) {
	router.POST("/workflows", h.submitWorkflow)
	router.GET("/workflows/:id", h.getExecutionStatus)
	router.GET("/executions/:id", h.getExecutionStatus)
	router.GET("/executions", h.listExecutions)
}

// validateWorkflowRequest enforces the admission shape rules: these are
// shallower than dag.Validate, which the engine runs on top of them.
func validateWorkflowRequest(req submitWorkflowRequest) []string {
	var errs []string

	if req.Name == "" || len(req.Name) > 255 || !workflowNamePattern.MatchString(req.Name) {
		errs = append(errs, "name is required, at most 255 characters, and must match [A-Za-z0-9_-]+")
	}
	if len(req.Steps) < 1 || len(req.Steps) > 100 {
		errs = append(errs, "steps must contain between 1 and 100 entries")
	}
	for _, s := range req.Steps {
		if s.ID == "" || s.Plugin == "" || s.Action == "" {
			errs = append(errs, "every step requires id, plugin, and action")
			break
		}
	}
	return errs
}

func (h *APIHandlers) submitWorkflow(c *gin.Context) {
	var req submitWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "invalid workflow payload", "details": []string{err.Error()}})
		return
	}

	if errs := validateWorkflowRequest(req); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "workflow failed validation", "details": errs})
		return
	}

	spec := models.WorkflowSpec{Name: req.Name, Steps: req.Steps}

	workflowID, executionID, err := h.engine.Submit(c.Request.Context(), req.Name, spec)
	if err != nil {
		var resolverErr *engine.ResolverError
		if errors.As(err, &resolverErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "resolver", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store", "message": "failed to submit workflow"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"executionId": executionID, "workflowId": workflowID})
}

func (h *APIHandlers) getExecutionStatus(c *gin.Context) {
	executionID := c.Param("id")

	status, err := h.engine.GetStatus(c.Request.Context(), executionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store", "message": "failed to load execution"})
		return
	}
	if status == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "execution not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution": status.Execution,
		"tasks":     status.Tasks,
		"events":    status.Events,
	})
}

func (h *APIHandlers) listExecutions(c *gin.Context) {
	limit := int64(50)
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 && parsed <= 50 {
			limit = parsed
		}
	}

	executions, err := h.repos.Executions.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store", "message": "failed to list executions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"executions": executions})
}
