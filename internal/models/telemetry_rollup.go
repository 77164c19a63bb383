package models

import "time"

// TelemetryRollup is a one-minute aggregate per sensor and signal.
type TelemetryRollup struct {
	Bucket    time.Time `gorm:"type:timestamptz;primaryKey" json:"bucket"`
	SensorID  string    `gorm:"type:uuid;primaryKey" json:"sensor_id"`
	Signal    string    `gorm:"type:text;primaryKey" json:"signal"`
	ProjectID string    `gorm:"type:uuid;not null" json:"project_id"`
	Samples   int64     `gorm:"not null" json:"samples"`
	MinRaw    float64   `json:"min_raw"`
	MaxRaw    float64   `json:"max_raw"`
	AvgRaw    float64   `json:"avg_raw"`
	MinPhys   *float64  `json:"min_physical,omitempty"`
	MaxPhys   *float64  `json:"max_physical,omitempty"`
	AvgPhys   *float64  `json:"avg_physical,omitempty"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (TelemetryRollup) TableName() string {
	return "telemetry_rollups_1m"
}
