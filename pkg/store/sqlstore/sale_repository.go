package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bothost/pkg/store/sqlstore/model"

	"gorm.io/gorm/clause"
)

// ErrMissingTransactionID is returned when a sale has no idempotency key
var ErrMissingTransactionID = errors.New("sale transaction id is required")

// SaleRepository records marketplace sales
type SaleRepository struct {
	ds *Datastore
}

// NewSaleRepository creates a new sale repository
func NewSaleRepository(ds *Datastore) *SaleRepository {
	return &SaleRepository{ds: ds}
}

// Record inserts the sale once per transaction id. created is false when
// the transaction id was already recorded.
func (r *SaleRepository) Record(ctx context.Context, s *model.SaleEvent) (bool, error) {
	if s.TransactionID == "" {
		return false, ErrMissingTransactionID
	}
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now()
	}
	result := r.ds.DB(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "transaction_id"}}, DoNothing: true}).
		Create(s)
	if result.Error != nil {
		return false, fmt.Errorf("failed to record sale %s: %w", s.TransactionID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetByTransaction returns the recorded sale, or nil
func (r *SaleRepository) GetByTransaction(ctx context.Context, transactionID string) (*model.SaleEvent, error) {
	var rows []model.SaleEvent
	if err := r.ds.DB(ctx).Where("transaction_id = ?", transactionID).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
