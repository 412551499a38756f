package v1

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/cloudshipai/workflowcore/pkg/models"
)

var (
	pluginIDPattern    = regexp.MustCompile(`^[a-z0-9._-]+$`)
	pluginImagePattern = regexp.MustCompile(`(?i)^[a-z0-9._/-]+:[a-z0-9._-]+$`)
)

type registerPluginRequest struct {
	ID      string            `json:"id" binding:"required"`
	Name    string            `json:"name" binding:"required"`
	Image   string            `json:"image" binding:"required"`
	Digest  *string           `json:"digest"`
	Version string            `json:"version"`
	Spec    models.PluginSpec `json:"spec"`
}

type updatePluginRequest struct {
	Digest  *string           `json:"digest"`
	Version string            `json:"version" binding:"required"`
	Spec    models.PluginSpec `json:"spec"`
}

func (h *APIHandlers) registerPluginRoutes(router *gin.RouterGroup) {
	router.POST("/plugins", h.registerPlugin)
	router.GET("/plugins", h.listPlugins)
	router.GET("/plugins/:id", h.getPlugin)
	router.PUT("/plugins/:id", h.updatePlugin)
}

func validatePluginRequest(req registerPluginRequest) []string {
	var errs []string

	if req.ID == "" || len(req.ID) > 255 || !pluginIDPattern.MatchString(req.ID) {
		errs = append(errs, "id is required, at most 255 characters, and must match [a-z0-9._-]+")
	}
	if req.Name == "" || len(req.Name) > 255 {
		errs = append(errs, "name is required and at most 255 characters")
	}
	if !pluginImagePattern.MatchString(req.Image) {
		errs = append(errs, "image must match registry/repo:tag")
	}
	return errs
}

func (h *APIHandlers) registerPlugin(c *gin.Context) {
	var req registerPluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "invalid plugin payload", "details": []string{err.Error()}})
		return
	}

	if errs := validatePluginRequest(req); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "plugin failed validation", "details": errs})
		return
	}

	plugin, err := h.registry.Register(c.Request.Context(), req.ID, req.Name, req.Image, req.Version, req.Digest, req.Spec)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "plugin registered", "plugin": plugin})
}

func (h *APIHandlers) listPlugins(c *gin.Context) {
	plugins, err := h.registry.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store", "message": "failed to list plugins"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plugins": plugins})
}

func (h *APIHandlers) getPlugin(c *gin.Context) {
	plugin, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "plugin not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plugin": plugin})
}

func (h *APIHandlers) updatePlugin(c *gin.Context) {
	var req updatePluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "invalid plugin payload", "details": []string{err.Error()}})
		return
	}

	plugin, err := h.registry.Update(c.Request.Context(), c.Param("id"), req.Digest, req.Version, req.Spec)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "plugin not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "plugin updated", "plugin": plugin})
}
