package models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookSubscription struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID  string         `gorm:"type:uuid;not null;index" json:"project_id"`
	TargetURL  string         `gorm:"type:text;not null" json:"target_url"`
	EventTypes datatypes.JSON `gorm:"type:jsonb;not null" json:"event_types" swaggertype:"array,string"`
	Secret     *string        `gorm:"type:text" json:"-"`
	IsActive   bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedBy  string         `gorm:"type:uuid;not null" json:"created_by"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (WebhookSubscription) TableName() string {
	return "webhook_subscriptions"
}
