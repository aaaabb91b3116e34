package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bothost/pkg/config"
	"bothost/pkg/constants"
	"bothost/pkg/store/sqlstore/model"

	"gorm.io/gorm"
)

// NodeRepository handles node rows and their load counters
type NodeRepository struct {
	ds *Datastore
}

// NewNodeRepository creates a new node repository
func NewNodeRepository(ds *Datastore) *NodeRepository {
	return &NodeRepository{ds: ds}
}

// List returns every node ordered by id
func (r *NodeRepository) List(ctx context.Context) ([]model.Node, error) {
	var nodes []model.Node
	if err := r.ds.DB(ctx).Order("id ASC").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return nodes, nil
}

// ListActive returns active nodes ordered by id
func (r *NodeRepository) ListActive(ctx context.Context) ([]model.Node, error) {
	var nodes []model.Node
	if err := r.ds.DB(ctx).
		Where("status = ?", constants.NodeStatusActive.String()).
		Order("id ASC").
		Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("failed to list active nodes: %w", err)
	}
	return nodes, nil
}

// Get retrieves a node by id, returning (nil, nil) when absent
func (r *NodeRepository) Get(ctx context.Context, id int64) (*model.Node, error) {
	var n model.Node
	if err := r.ds.DB(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get node %d: %w", id, err)
	}
	return &n, nil
}

// EnsureSeeded creates configured nodes that do not exist yet. Existing
// rows are left alone so runtime status changes survive restarts.
func (r *NodeRepository) EnsureSeeded(ctx context.Context, nodes []config.NodeConfig) (int, error) {
	created := 0
	err := r.ds.ExecTx(ctx, func(ctx context.Context) error {
		for _, nc := range nodes {
			var count int64
			if err := r.ds.DB(ctx).Model(&model.Node{}).Where("name = ?", nc.Name).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			now := time.Now()
			n := &model.Node{
				Name:      nc.Name,
				Region:    nc.Region,
				Status:    nc.Status,
				Capacity:  nc.Capacity,
				LastCheck: &now,
			}
			if err := r.ds.DB(ctx).Create(n).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to seed nodes: %w", err)
	}
	return created, nil
}

// IncrementLoad counts one more placement on the node
func (r *NodeRepository) IncrementLoad(ctx context.Context, id int64) error {
	if err := r.ds.DB(ctx).Model(&model.Node{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_load":   gorm.Expr("current_load + 1"),
			"total_deployed": gorm.Expr("total_deployed + 1"),
			"last_check":     time.Now(),
		}).Error; err != nil {
		return fmt.Errorf("failed to increment load on node %d: %w", id, err)
	}
	return nil
}

// DecrementLoad releases one placement, never going below zero
func (r *NodeRepository) DecrementLoad(ctx context.Context, id int64) error {
	if err := r.ds.DB(ctx).Model(&model.Node{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_load": gorm.Expr("CASE WHEN current_load > 0 THEN current_load - 1 ELSE 0 END"),
			"last_check":   time.Now(),
		}).Error; err != nil {
		return fmt.Errorf("failed to decrement load on node %d: %w", id, err)
	}
	return nil
}

// SetStatus activates or deactivates a node; found is false for unknown ids
func (r *NodeRepository) SetStatus(ctx context.Context, id int64, status constants.NodeStatus) (bool, error) {
	result := r.ds.DB(ctx).Model(&model.Node{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status.String(),
			"last_check": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to set status on node %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

const recomputeLoadsSQL = `UPDATE nodes SET current_load = (
	SELECT COUNT(*) FROM deployments WHERE deployments.node_id = nodes.id AND deployments.status = ?
) WHERE current_load <> (
	SELECT COUNT(*) FROM deployments WHERE deployments.node_id = nodes.id AND deployments.status = ?
)`

// RecomputeLoads resets every node's load to the number of Running
// deployments placed on it and returns how many nodes were corrected
func (r *NodeRepository) RecomputeLoads(ctx context.Context) (int64, error) {
	running := constants.DeploymentStatusRunning.String()
	result := r.ds.DB(ctx).Exec(recomputeLoadsSQL, running, running)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to recompute node loads: %w", result.Error)
	}
	return result.RowsAffected, nil
}
