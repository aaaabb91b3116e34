package model

import (
	"time"

	"bothost/pkg/constants"
)

// Deployment represents one hosted bot in the database
type Deployment struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID       int64      `gorm:"column:user_id;not null;index" json:"user_id"`
	BotName      string     `gorm:"column:bot_name;type:varchar(255);not null" json:"bot_name"`
	Filename     string     `gorm:"column:filename;type:varchar(1024)" json:"filename"`
	Status       string     `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	PID          int        `gorm:"column:pid;not null;default:0" json:"pid"`
	NodeID       *int64     `gorm:"column:node_id;index" json:"node_id"`
	RestartCount int        `gorm:"column:restart_count;not null;default:0" json:"restart_count"`
	AutoRestart  bool       `gorm:"column:auto_restart;not null" json:"auto_restart"`
	CPUUsage     float64    `gorm:"column:cpu_usage" json:"cpu_usage"`
	RAMUsage     float64    `gorm:"column:ram_usage" json:"ram_usage"`
	StartTime    *time.Time `gorm:"column:start_time" json:"start_time"`
	LastActive   *time.Time `gorm:"column:last_active" json:"last_active"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Deployment) TableName() string {
	return "deployments"
}

// IsRunning reports whether the row claims a live process.
func (d *Deployment) IsRunning() bool {
	return d.Status == constants.DeploymentStatusRunning.String()
}
