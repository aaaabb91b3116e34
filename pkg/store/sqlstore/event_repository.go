package sqlstore

import (
	"context"
	"fmt"

	"bothost/pkg/store/sqlstore/model"
)

// EventRepository handles audit and per-deployment lifecycle records
type EventRepository struct {
	ds *Datastore
}

// NewEventRepository creates a new event repository
func NewEventRepository(ds *Datastore) *EventRepository {
	return &EventRepository{ds: ds}
}

// InsertServerLog appends an audit event
func (r *EventRepository) InsertServerLog(ctx context.Context, e *model.ServerLog) error {
	if err := r.ds.DB(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to insert server log: %w", err)
	}
	return nil
}

// InsertDeploymentLog appends a deployment lifecycle event
func (r *EventRepository) InsertDeploymentLog(ctx context.Context, e *model.DeploymentLog) error {
	if err := r.ds.DB(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to insert deployment log: %w", err)
	}
	return nil
}

// ListDeploymentLogs returns the newest lifecycle events of a deployment first
func (r *EventRepository) ListDeploymentLogs(ctx context.Context, deploymentID int64, limit int) ([]model.DeploymentLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.DeploymentLog
	if err := r.ds.DB(ctx).
		Where("deployment_id = ?", deploymentID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list deployment logs: %w", err)
	}
	return rows, nil
}

// ListServerLogs returns the newest audit events first, optionally filtered by kind
func (r *EventRepository) ListServerLogs(ctx context.Context, event string, limit int) ([]model.ServerLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.ds.DB(ctx).Model(&model.ServerLog{})
	if event != "" {
		query = query.Where("event = ?", event)
	}
	var rows []model.ServerLog
	if err := query.Order("timestamp DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list server logs: %w", err)
	}
	return rows, nil
}
