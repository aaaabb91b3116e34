package model

import "time"

// Node represents a capacity-bounded placement target
type Node struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name          string     `gorm:"column:name;type:varchar(255);not null;uniqueIndex" json:"name"`
	Region        string     `gorm:"column:region;type:varchar(64)" json:"region"`
	Status        string     `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	Capacity      int        `gorm:"column:capacity;not null;default:0" json:"capacity"`
	CurrentLoad   int        `gorm:"column:current_load;not null;default:0" json:"current_load"`
	TotalDeployed int64      `gorm:"column:total_deployed;not null;default:0" json:"total_deployed"`
	LastCheck     *time.Time `gorm:"column:last_check" json:"last_check"`
}

func (Node) TableName() string {
	return "nodes"
}

// LoadRatio returns current_load/capacity; nodes without capacity report -1.
func (n *Node) LoadRatio() float64 {
	if n.Capacity <= 0 {
		return -1
	}
	return float64(n.CurrentLoad) / float64(n.Capacity)
}
