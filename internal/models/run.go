package models

import (
	"time"

	"gorm.io/datatypes"

	"experimentservice/internal/lifecycle"
)

// Run is one execution of an experiment; it inherits the experiment's project.
type Run struct {
	ID              string           `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID       string           `gorm:"type:uuid;not null;index" json:"project_id"`
	ExperimentID    string           `gorm:"type:uuid;not null;index" json:"experiment_id"`
	CreatedBy       string           `gorm:"type:uuid;not null" json:"created_by"`
	Name            *string          `gorm:"type:varchar(255)" json:"name,omitempty"`
	Params          datatypes.JSON   `gorm:"type:jsonb;not null" json:"params" swaggertype:"object"`
	GitSHA          *string          `gorm:"column:git_sha;type:varchar(64)" json:"git_sha,omitempty"`
	Env             *string          `gorm:"type:varchar(100)" json:"env,omitempty"`
	Notes           *string          `gorm:"type:text" json:"notes,omitempty"`
	Metadata        datatypes.JSON   `gorm:"type:jsonb;not null" json:"metadata" swaggertype:"object"`
	Tags            datatypes.JSON   `gorm:"type:jsonb;not null" json:"tags" swaggertype:"array,string"`
	Status          lifecycle.Status `gorm:"type:varchar(32);not null;index" json:"status"`
	StartedAt       *time.Time       `gorm:"type:timestamptz" json:"started_at,omitempty"`
	FinishedAt      *time.Time       `gorm:"type:timestamptz" json:"finished_at,omitempty"`
	DurationSeconds *int64           `json:"duration_seconds,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Run) TableName() string {
	return "runs"
}
