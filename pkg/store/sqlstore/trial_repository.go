package sqlstore

import (
	"context"
	"fmt"
	"time"

	"bothost/pkg/store/sqlstore/model"
)

// TrialRepository handles trial grants
type TrialRepository struct {
	ds *Datastore
}

// NewTrialRepository creates a new trial repository
func NewTrialRepository(ds *Datastore) *TrialRepository {
	return &TrialRepository{ds: ds}
}

// Create inserts an active trial grant
func (r *TrialRepository) Create(ctx context.Context, g *model.TrialGrant) error {
	if g.Status == "" {
		g.Status = model.TrialStatusActive
	}
	if g.StartedAt.IsZero() {
		g.StartedAt = time.Now()
	}
	// stored in UTC so expiry comparisons are stable across drivers
	g.StartedAt = g.StartedAt.UTC()
	g.ExpiresAt = g.ExpiresAt.UTC()
	if err := r.ds.DB(ctx).Create(g).Error; err != nil {
		return fmt.Errorf("failed to create trial grant: %w", err)
	}
	return nil
}

// Get returns a trial grant by code, or nil
func (r *TrialRepository) Get(ctx context.Context, code string) (*model.TrialGrant, error) {
	var rows []model.TrialGrant
	if err := r.ds.DB(ctx).Where("code = ?", code).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get trial grant: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ExpireOverdue flips active grants whose expiry has passed and returns the count
func (r *TrialRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	result := r.ds.DB(ctx).Model(&model.TrialGrant{}).
		Where("status = ? AND expires_at < ?", model.TrialStatusActive, now.UTC()).
		Update("status", model.TrialStatusExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire trial grants: %w", result.Error)
	}
	return result.RowsAffected, nil
}
