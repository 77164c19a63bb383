package models

import (
	"time"

	"gorm.io/datatypes"

	"experimentservice/internal/lifecycle"
)

// Experiment groups runs under one project. Name is unique per project, case-insensitive.
type Experiment struct {
	ID             string           `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID      string           `gorm:"type:uuid;not null;index" json:"project_id"`
	OwnerID        string           `gorm:"type:uuid;not null" json:"owner_id"`
	Name           string           `gorm:"type:varchar(255);not null" json:"name"`
	Description    *string          `gorm:"type:text" json:"description,omitempty"`
	ExperimentType *string          `gorm:"type:varchar(100)" json:"experiment_type,omitempty"`
	Tags           datatypes.JSON   `gorm:"type:jsonb;not null" json:"tags" swaggertype:"array,string"`
	Metadata       datatypes.JSON   `gorm:"type:jsonb;not null" json:"metadata" swaggertype:"object"`
	Status         lifecycle.Status `gorm:"type:varchar(32);not null;index" json:"status"`
	ArchivedAt     *time.Time       `gorm:"type:timestamptz" json:"archived_at,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Experiment) TableName() string {
	return "experiments"
}
