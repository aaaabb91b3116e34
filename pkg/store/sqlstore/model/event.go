package model

import "time"

// ServerLog is an audit record of a system event
type ServerLog struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Timestamp time.Time `gorm:"column:timestamp;not null;index" json:"timestamp"`
	Event     string    `gorm:"column:event;type:varchar(64);not null;index" json:"event"`
	Details   string    `gorm:"column:details;type:text" json:"details"`
	UserID    *int64    `gorm:"column:user_id;index" json:"user_id"`
}

func (ServerLog) TableName() string { return "server_logs" }

// DeploymentLog records a lifecycle event of one deployment
type DeploymentLog struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DeploymentID int64     `gorm:"column:deployment_id;not null;index:idx_deployment_log_time,priority:1" json:"deployment_id"`
	Timestamp    time.Time `gorm:"column:timestamp;not null;index:idx_deployment_log_time,priority:2" json:"timestamp"`
	LogType      string    `gorm:"column:log_type;type:varchar(64);not null" json:"log_type"`
	Message      string    `gorm:"column:message;type:text" json:"message"`
}

func (DeploymentLog) TableName() string { return "deployment_logs" }

// Notification is a user inbox entry
type Notification struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"column:user_id;not null;index" json:"user_id"`
	Message   string    `gorm:"column:message;type:text;not null" json:"message"`
	IsRead    bool      `gorm:"column:is_read;not null" json:"is_read"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
