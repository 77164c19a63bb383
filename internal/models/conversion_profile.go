package models

import (
	"time"

	"gorm.io/datatypes"

	"experimentservice/internal/lifecycle"
)

// ConversionProfile is a versioned raw-to-physical transform for one sensor.
type ConversionProfile struct {
	ID          string           `gorm:"type:uuid;primaryKey" json:"id"`
	SensorID    string           `gorm:"type:uuid;not null;index" json:"sensor_id"`
	ProjectID   string           `gorm:"type:uuid;not null" json:"project_id"`
	Version     string           `gorm:"type:varchar(64);not null" json:"version"`
	Kind        string           `gorm:"type:varchar(32);not null" json:"kind"`
	Payload     datatypes.JSON   `gorm:"type:jsonb;not null" json:"payload" swaggertype:"object"`
	Status      lifecycle.Status `gorm:"type:varchar(32);not null;index" json:"status"`
	ValidFrom   *time.Time       `gorm:"type:timestamptz" json:"valid_from,omitempty"`
	ValidTo     *time.Time       `gorm:"type:timestamptz" json:"valid_to,omitempty"`
	CreatedBy   string           `gorm:"type:uuid;not null" json:"created_by"`
	PublishedBy *string          `gorm:"type:uuid" json:"published_by,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (ConversionProfile) TableName() string {
	return "conversion_profiles"
}
