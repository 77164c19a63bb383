package models

import (
	"time"

	"gorm.io/datatypes"
)

// TelemetryRecord is one append-only sensor reading.
// Signal is generated by the database from meta and is read-only here.
type TelemetryRecord struct {
	ID                  int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp           time.Time      `gorm:"column:timestamp;type:timestamptz;primaryKey" json:"timestamp"`
	ProjectID           string         `gorm:"type:uuid;not null" json:"project_id"`
	SensorID            string         `gorm:"type:uuid;not null" json:"sensor_id"`
	RunID               *string        `gorm:"type:uuid" json:"run_id,omitempty"`
	CaptureSessionID    *string        `gorm:"type:uuid" json:"capture_session_id,omitempty"`
	RawValue            float64        `gorm:"not null" json:"raw_value"`
	PhysicalValue       *float64       `json:"physical_value,omitempty"`
	Meta                datatypes.JSON `gorm:"type:jsonb;not null" json:"meta" swaggertype:"object"`
	Signal              *string        `gorm:"->;type:text" json:"signal,omitempty"`
	ConversionStatus    string         `gorm:"type:varchar(32);not null" json:"conversion_status"`
	ConversionProfileID *string        `gorm:"type:uuid" json:"conversion_profile_id,omitempty"`
	IngestMode          string         `gorm:"type:varchar(8);not null" json:"ingest_mode"`
	IngestedAt          time.Time      `gorm:"type:timestamptz;autoCreateTime" json:"ingested_at"`
}

func (TelemetryRecord) TableName() string {
	return "telemetry_records"
}
