package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bothost/pkg/constants"
	"bothost/pkg/store/sqlstore/model"

	"gorm.io/gorm"
)

// DeploymentRepository handles deployment rows
type DeploymentRepository struct {
	ds *Datastore
}

// NewDeploymentRepository creates a new deployment repository
func NewDeploymentRepository(ds *Datastore) *DeploymentRepository {
	return &DeploymentRepository{ds: ds}
}

// Get retrieves a deployment by id, returning (nil, nil) when it does not exist
func (r *DeploymentRepository) Get(ctx context.Context, id int64) (*model.Deployment, error) {
	var d model.Deployment
	err := r.ds.DB(ctx).Where("id = ?", id).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deployment %d: %w", id, err)
	}
	return &d, nil
}

// Create inserts a deployment; a zero status defaults to Uploaded
func (r *DeploymentRepository) Create(ctx context.Context, d *model.Deployment) error {
	now := time.Now()
	if d.Status == "" {
		d.Status = constants.DeploymentStatusUploaded.String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if err := r.ds.DB(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}
	return nil
}

// List returns all deployments ordered by id
func (r *DeploymentRepository) List(ctx context.Context) ([]model.Deployment, error) {
	var rows []model.Deployment
	if err := r.ds.DB(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return rows, nil
}

// UpdateFields applies a column patch and bumps updated_at
func (r *DeploymentRepository) UpdateFields(ctx context.Context, id int64, patch map[string]interface{}) error {
	updates := make(map[string]interface{}, len(patch)+1)
	for k, v := range patch {
		updates[k] = v
	}
	updates["updated_at"] = time.Now()

	if err := r.ds.DB(ctx).Model(&model.Deployment{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update deployment %d: %w", id, err)
	}
	return nil
}

// ListByStatus returns deployments whose status is one of statuses
func (r *DeploymentRepository) ListByStatus(ctx context.Context, statuses ...constants.DeploymentStatus) ([]model.Deployment, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, s.String())
	}

	var rows []model.Deployment
	if err := r.ds.DB(ctx).Where("status IN ?", values).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list deployments by status: %w", err)
	}
	return rows, nil
}

// ListSelfHealCandidates returns auto-restart deployments that are stopped
// or have no process, excluding those mid-restart
func (r *DeploymentRepository) ListSelfHealCandidates(ctx context.Context) ([]model.Deployment, error) {
	var rows []model.Deployment
	err := r.ds.DB(ctx).
		Where("auto_restart = ?", true).
		Where("status <> ?", constants.DeploymentStatusRestarting.String()).
		Where("(status = ? OR pid = 0)", constants.DeploymentStatusStopped.String()).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list self-heal candidates: %w", err)
	}
	return rows, nil
}

// SetAutoRestart toggles the auto-restart flag; found is false for unknown ids
func (r *DeploymentRepository) SetAutoRestart(ctx context.Context, id int64, enabled bool) (bool, error) {
	result := r.ds.DB(ctx).Model(&model.Deployment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"auto_restart": enabled,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to set auto_restart on %d: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	d, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return d != nil, nil
}

// IncrementRestartCount adds one to restart_count in place
func (r *DeploymentRepository) IncrementRestartCount(ctx context.Context, id int64) error {
	if err := r.ds.DB(ctx).Model(&model.Deployment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"restart_count": gorm.Expr("restart_count + 1"),
			"updated_at":    time.Now(),
		}).Error; err != nil {
		return fmt.Errorf("failed to increment restart count on %d: %w", id, err)
	}
	return nil
}

// UpdateUsage stores the last resource sample of a running deployment
func (r *DeploymentRepository) UpdateUsage(ctx context.Context, id int64, cpu, ram float64, at time.Time) error {
	if err := r.ds.DB(ctx).Model(&model.Deployment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"cpu_usage":   cpu,
			"ram_usage":   ram,
			"last_active": at,
		}).Error; err != nil {
		return fmt.Errorf("failed to update usage on %d: %w", id, err)
	}
	return nil
}

// CountRunningOnNode counts Running deployments placed on nodeID
func (r *DeploymentRepository) CountRunningOnNode(ctx context.Context, nodeID int64) (int64, error) {
	var count int64
	if err := r.ds.DB(ctx).Model(&model.Deployment{}).
		Where("node_id = ? AND status = ?", nodeID, constants.DeploymentStatusRunning.String()).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count running deployments on node %d: %w", nodeID, err)
	}
	return count, nil
}
