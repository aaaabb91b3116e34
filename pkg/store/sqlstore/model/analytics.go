package model

import "time"

// DeploymentAnalytics is the daily usage aggregate of one deployment
type DeploymentAnalytics struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DeploymentID  int64     `gorm:"column:deployment_id;not null;uniqueIndex:uk_deployment_date,priority:1" json:"deployment_id"`
	Date          string    `gorm:"column:date;type:varchar(10);not null;uniqueIndex:uk_deployment_date,priority:2" json:"date"` // YYYY-MM-DD
	UptimeSeconds int64     `gorm:"column:uptime_seconds;not null;default:0" json:"uptime_seconds"`
	Restarts      int       `gorm:"column:restarts;not null;default:0" json:"restarts"`
	CPUAvg        float64   `gorm:"column:cpu_avg" json:"cpu_avg"`
	RAMAvg        float64   `gorm:"column:ram_avg" json:"ram_avg"`
	Samples       int       `gorm:"column:samples;not null;default:0" json:"samples"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (DeploymentAnalytics) TableName() string { return "deployment_analytics" }
