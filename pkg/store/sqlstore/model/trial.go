package model

import "time"

// Trial grant statuses
const (
	TrialStatusActive  = "active"
	TrialStatusExpired = "expired"
)

// TrialGrant is a time-boxed, code-gated permission to run a copy of a deployment
type TrialGrant struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DeploymentID int64     `gorm:"column:deployment_id;not null;index" json:"deployment_id"`
	UserID       *int64    `gorm:"column:user_id;index" json:"user_id"`
	Code         string    `gorm:"column:code;type:varchar(32);not null;uniqueIndex" json:"code"`
	Status       string    `gorm:"column:status;type:varchar(16);not null;index:idx_trial_status_expiry,priority:1" json:"status"`
	StartedAt    time.Time `gorm:"column:started_at;not null" json:"started_at"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null;index:idx_trial_status_expiry,priority:2" json:"expires_at"`
}

func (TrialGrant) TableName() string { return "trial_grants" }
