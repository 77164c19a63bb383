package models

import (
	"time"

	"experimentservice/internal/lifecycle"
)

// CaptureSession is one start/stop telemetry recording window of a run.
// Archived is a soft-delete flag and is independent of the archived status.
type CaptureSession struct {
	ID            string           `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID     string           `gorm:"type:uuid;not null;index" json:"project_id"`
	RunID         string           `gorm:"type:uuid;not null;index" json:"run_id"`
	OrdinalNumber int              `gorm:"not null" json:"ordinal_number"`
	Status        lifecycle.Status `gorm:"type:varchar(32);not null;index" json:"status"`
	InitiatedBy   *string          `gorm:"type:uuid" json:"initiated_by,omitempty"`
	Notes         *string          `gorm:"type:text" json:"notes,omitempty"`
	StartedAt     *time.Time       `gorm:"type:timestamptz" json:"started_at,omitempty"`
	StoppedAt     *time.Time       `gorm:"type:timestamptz" json:"stopped_at,omitempty"`
	Archived      bool             `gorm:"not null;default:false" json:"archived"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (CaptureSession) TableName() string {
	return "capture_sessions"
}
