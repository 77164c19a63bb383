package models

import "time"

// SensorProject links a sensor to every project allowed to read or attach its telemetry.
type SensorProject struct {
	SensorID  string    `gorm:"type:uuid;primaryKey" json:"sensor_id"`
	ProjectID string    `gorm:"type:uuid;primaryKey;index" json:"project_id"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (SensorProject) TableName() string {
	return "sensor_projects"
}
