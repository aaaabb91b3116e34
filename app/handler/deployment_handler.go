package handler

import (
	"net/http"
	"strings"
	"time"

	"bothost/internal/service/deployment"
	"bothost/pkg/constants"
	"bothost/pkg/logger"
	"bothost/pkg/store/sqlstore"
	"bothost/pkg/store/sqlstore/model"

	"github.com/gin-gonic/gin"
)

// DeploymentHandler exposes the supervisor operations
type DeploymentHandler struct {
	svc   *deployment.Service
	store *sqlstore.Store
}

// NewDeploymentHandler creates a new deployment handler
func NewDeploymentHandler(svc *deployment.Service, store *sqlstore.Store) *DeploymentHandler {
	return &DeploymentHandler{svc: svc, store: store}
}

// CreateDeploymentRequest registers an artifact that is already on disk
type CreateDeploymentRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	BotName     string `json:"bot_name" binding:"required"`
	Filename    string `json:"filename" binding:"required"`
	AutoRestart *bool  `json:"auto_restart"`
}

// AutoRestartRequest toggles the crash policy
type AutoRestartRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ActionResponse is the (success, message) pair of the outer-layer adapters
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// List returns every deployment
func (h *DeploymentHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	rows, err := h.store.Deployment.List(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to list deployments: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if status := c.Query("status"); status != "" {
		filtered := rows[:0]
		for _, r := range rows {
			if strings.EqualFold(r.Status, status) {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	c.JSON(http.StatusOK, rows)
}

// Get returns one deployment
func (h *DeploymentHandler) Get(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	d, err := h.store.Deployment.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "deployment not found"})
		return
	}
	c.JSON(http.StatusOK, d)
}

// Create registers a deployment in the Uploaded state
func (h *DeploymentHandler) Create(c *gin.Context) {
	var req CreateDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d := &model.Deployment{
		UserID:      req.UserID,
		BotName:     req.BotName,
		Filename:    req.Filename,
		Status:      constants.DeploymentStatusUploaded.String(),
		AutoRestart: true,
	}
	if req.AutoRestart != nil {
		d.AutoRestart = *req.AutoRestart
	}
	if err := h.store.Deployment.Create(c.Request.Context(), d); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, d)
}

// Deploy starts the deployment
func (h *DeploymentHandler) Deploy(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	res, err := h.svc.Deploy(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), ActionResponse{Message: deployment.ErrorMessage(err)})
		return
	}
	c.JSON(http.StatusOK, res)
}

// Stop terminates the deployment
func (h *DeploymentHandler) Stop(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.svc.Stop(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), ActionResponse{Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "Deployment stopped"})
}

// TestRun runs the artifact in isolation
func (h *DeploymentHandler) TestRun(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	timeout := intQuery(c, "timeout", 0)
	res, err := h.svc.TestRun(c.Request.Context(), id, time.Duration(timeout)*time.Second)
	if err != nil {
		c.JSON(statusFor(err), ActionResponse{Message: deployment.ErrorMessage(err)})
		return
	}
	c.JSON(http.StatusOK, res)
}

// Backup copies the artifact into the script backup directory
func (h *DeploymentHandler) Backup(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	path, err := h.svc.BackupScript(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

// SetAutoRestart toggles the crash policy
func (h *DeploymentHandler) SetAutoRestart(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req AutoRestartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.SetAutoRestart(c.Request.Context(), id, *req.Enabled); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "auto_restart": *req.Enabled})
}

// Events returns the deployment's lifecycle events, newest first
func (h *DeploymentHandler) Events(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	logs, err := h.store.Event.ListDeploymentLogs(c.Request.Context(), id, intQuery(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// Analytics returns the daily aggregates, newest first
func (h *DeploymentHandler) Analytics(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	rows, err := h.store.Analytics.ListByDeployment(c.Request.Context(), id, intQuery(c, "days", 30))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

