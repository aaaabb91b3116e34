package handler

import (
	"net/http"

	"bothost/pkg/constants"
	"bothost/pkg/store/sqlstore"

	"github.com/gin-gonic/gin"
)

// NodeHandler exposes the node registry
type NodeHandler struct {
	store *sqlstore.Store
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(store *sqlstore.Store) *NodeHandler {
	return &NodeHandler{store: store}
}

// NodeStatusRequest activates or drains a node
type NodeStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active inactive"`
}

// NodeView is a node with its derived load ratio
type NodeView struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Region        string  `json:"region"`
	Status        string  `json:"status"`
	Capacity      int     `json:"capacity"`
	CurrentLoad   int     `json:"current_load"`
	TotalDeployed int64   `json:"total_deployed"`
	LoadRatio     float64 `json:"load_ratio"`
}

// List returns every node
func (h *NodeHandler) List(c *gin.Context) {
	nodes, err := h.store.Node.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]NodeView, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		views = append(views, NodeView{
			ID:            n.ID,
			Name:          n.Name,
			Region:        n.Region,
			Status:        n.Status,
			Capacity:      n.Capacity,
			CurrentLoad:   n.CurrentLoad,
			TotalDeployed: n.TotalDeployed,
			LoadRatio:     n.LoadRatio(),
		})
	}
	c.JSON(http.StatusOK, views)
}

// SetStatus activates or deactivates a node. Deactivation only stops new
// placements; running deployments stay where they are.
func (h *NodeHandler) SetStatus(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req NodeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	found, err := h.store.Node.SetStatus(c.Request.Context(), id, constants.NodeStatus(req.Status))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}
