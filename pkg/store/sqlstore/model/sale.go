package model

import "time"

// SaleEvent records a marketplace sale; TransactionID makes it idempotent
type SaleEvent struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TransactionID string    `gorm:"column:transaction_id;type:varchar(128);not null;uniqueIndex" json:"transaction_id"`
	ListingID     int64     `gorm:"column:listing_id;not null;index" json:"listing_id"`
	BuyerID       int64     `gorm:"column:buyer_id;not null;index" json:"buyer_id"`
	Amount        float64   `gorm:"column:amount;not null" json:"amount"`
	Method        string    `gorm:"column:method;type:varchar(32)" json:"method"`
	RecordedAt    time.Time `gorm:"column:recorded_at;not null" json:"recorded_at"`
}

func (SaleEvent) TableName() string { return "sale_events" }
