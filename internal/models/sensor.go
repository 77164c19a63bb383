package models

import (
	"time"

	"experimentservice/internal/lifecycle"
)

// Sensor produces telemetry. TokenHash is the hex sha256 of the bearer token;
// the plaintext is only returned when the token is issued.
type Sensor struct {
	ID               string           `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID        string           `gorm:"type:uuid;not null;index" json:"project_id"`
	Name             string           `gorm:"type:varchar(255);not null" json:"name"`
	Type             string           `gorm:"type:varchar(100);not null" json:"type"`
	InputUnit        string           `gorm:"type:varchar(50);not null" json:"input_unit"`
	DisplayUnit      string           `gorm:"type:varchar(50);not null" json:"display_unit"`
	Status           lifecycle.Status `gorm:"type:varchar(32);not null;index" json:"status"`
	TokenHash        string           `gorm:"type:char(64);not null;uniqueIndex" json:"-"`
	TokenPreview     string           `gorm:"type:varchar(8)" json:"token_preview"`
	LastHeartbeat    *time.Time       `gorm:"type:timestamptz" json:"last_heartbeat,omitempty"`
	ActiveProfileID  *string          `gorm:"type:uuid" json:"active_profile_id,omitempty"`
	CalibrationNotes *string          `gorm:"type:text" json:"calibration_notes,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Sensor) TableName() string {
	return "sensors"
}
