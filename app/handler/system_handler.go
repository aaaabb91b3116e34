package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bothost/internal/service"
	"bothost/internal/service/deployment"
	"bothost/pkg/backup"
	"bothost/pkg/constants"
	"bothost/pkg/logger"
	"bothost/pkg/store/sqlstore"
	"bothost/pkg/store/sqlstore/model"

	"github.com/gin-gonic/gin"
)

// SystemHandler serves health, snapshots, maintenance triggers, sales and inboxes
type SystemHandler struct {
	store       *sqlstore.Store
	snapshots   *backup.Snapshotter
	maintenance *service.MaintenanceService
	events      deployment.EventSink
}

// NewSystemHandler creates a new system handler. snapshots may be nil when
// backups are disabled.
func NewSystemHandler(store *sqlstore.Store, snapshots *backup.Snapshotter, maintenance *service.MaintenanceService, events deployment.EventSink) *SystemHandler {
	return &SystemHandler{store: store, snapshots: snapshots, maintenance: maintenance, events: events}
}

// RecordSaleRequest is one marketplace sale
type RecordSaleRequest struct {
	TransactionID string  `json:"transaction_id" binding:"required"`
	ListingID     int64   `json:"listing_id" binding:"required"`
	BuyerID       int64   `json:"buyer_id" binding:"required"`
	Amount        float64 `json:"amount"`
	Method        string  `json:"method"`
}

// Health reports whether the store answers
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Datastore().Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListSnapshots returns the archives on disk, newest first
func (h *SystemHandler) ListSnapshots(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusOK, []backup.Info{})
		return
	}
	infos, err := h.snapshots.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, infos)
}

// CreateSnapshot writes an archive now
func (h *SystemHandler) CreateSnapshot(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backups are disabled"})
		return
	}
	path, err := h.snapshots.Snapshot(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "manual snapshot failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.events.Emit(constants.EventStoreSnapshot, "manual snapshot "+path, nil)
	c.JSON(http.StatusCreated, gin.H{"path": path})
}

// SelfHeal runs one self-heal pass now
func (h *SystemHandler) SelfHeal(c *gin.Context) {
	report, err := h.maintenance.SelfHeal(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ReconcileNodes rebuilds node loads now
func (h *SystemHandler) ReconcileNodes(c *gin.Context) {
	corrected, err := h.maintenance.NodeReconcile(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"corrected": corrected})
}

// RecordSale stores a sale once per transaction id. Replays answer 200
// with created=false.
func (h *SystemHandler) RecordSale(c *gin.Context) {
	var req RecordSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sale := &model.SaleEvent{
		TransactionID: req.TransactionID,
		ListingID:     req.ListingID,
		BuyerID:       req.BuyerID,
		Amount:        req.Amount,
		Method:        req.Method,
	}
	created, err := h.store.Sale.Record(c.Request.Context(), sale)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		buyer := req.BuyerID
		h.events.Emit(constants.EventSaleRecorded, fmt.Sprintf("transaction %s listing %d amount %.2f", req.TransactionID, req.ListingID, req.Amount), &buyer)
	}
	c.JSON(status, gin.H{"created": created, "transaction_id": req.TransactionID})
}

// ServerEvents returns audit events, optionally of one kind
func (h *SystemHandler) ServerEvents(c *gin.Context) {
	rows, err := h.store.Event.ListServerLogs(c.Request.Context(), c.Query("event"), intQuery(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// Notifications returns a user's unread notifications
func (h *SystemHandler) Notifications(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	rows, err := h.store.Notification.ListUnread(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// MarkNotificationsRead clears a user's inbox
func (h *SystemHandler) MarkNotificationsRead(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	n, err := h.store.Notification.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}
