package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bothost/pkg/store/sqlstore/model"

	"gorm.io/gorm"
)

// RollUpInput is one roll-up contribution to a daily aggregate
type RollUpInput struct {
	DeploymentID int64
	Date         string // YYYY-MM-DD
	UptimeDelta  int64  // seconds
	Restarts     int    // restarts since the previous roll-up
	CPU          float64
	RAM          float64
}

// AnalyticsRepository handles daily deployment aggregates
type AnalyticsRepository struct {
	ds *Datastore
}

// NewAnalyticsRepository creates a new analytics repository
func NewAnalyticsRepository(ds *Datastore) *AnalyticsRepository {
	return &AnalyticsRepository{ds: ds}
}

// Get returns the aggregate for (deploymentID, date), or nil
func (r *AnalyticsRepository) Get(ctx context.Context, deploymentID int64, date string) (*model.DeploymentAnalytics, error) {
	var row model.DeploymentAnalytics
	err := r.ds.DB(ctx).Where("deployment_id = ? AND date = ?", deploymentID, date).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get analytics: %w", err)
	}
	return &row, nil
}

// ListByDeployment returns the newest daily aggregates first
func (r *AnalyticsRepository) ListByDeployment(ctx context.Context, deploymentID int64, limit int) ([]model.DeploymentAnalytics, error) {
	if limit <= 0 {
		limit = 30
	}
	var rows []model.DeploymentAnalytics
	if err := r.ds.DB(ctx).
		Where("deployment_id = ?", deploymentID).
		Order("date DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list analytics: %w", err)
	}
	return rows, nil
}

// RollUp upserts the daily aggregate, folding the sample into running averages
func (r *AnalyticsRepository) RollUp(ctx context.Context, in RollUpInput) (*model.DeploymentAnalytics, error) {
	var out *model.DeploymentAnalytics
	err := r.ds.ExecTx(ctx, func(ctx context.Context) error {
		row, err := r.Get(ctx, in.DeploymentID, in.Date)
		if err != nil {
			return err
		}
		now := time.Now()
		if row == nil {
			row = &model.DeploymentAnalytics{
				DeploymentID:  in.DeploymentID,
				Date:          in.Date,
				UptimeSeconds: in.UptimeDelta,
				Restarts:      in.Restarts,
				CPUAvg:        in.CPU,
				RAMAvg:        in.RAM,
				Samples:       1,
				UpdatedAt:     now,
			}
			out = row
			return r.ds.DB(ctx).Create(row).Error
		}

		n := float64(row.Samples)
		row.CPUAvg = (row.CPUAvg*n + in.CPU) / (n + 1)
		row.RAMAvg = (row.RAMAvg*n + in.RAM) / (n + 1)
		row.Samples++
		row.UptimeSeconds += in.UptimeDelta
		row.Restarts += in.Restarts
		row.UpdatedAt = now
		out = row
		return r.ds.DB(ctx).Model(&model.DeploymentAnalytics{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"uptime_seconds": row.UptimeSeconds,
				"restarts":       row.Restarts,
				"cpu_avg":        row.CPUAvg,
				"ram_avg":        row.RAMAvg,
				"samples":        row.Samples,
				"updated_at":     now,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to roll up analytics for %d: %w", in.DeploymentID, err)
	}
	return out, nil
}
