package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	DeliveryPending    = "pending"
	DeliveryInProgress = "in_progress"
	DeliverySucceeded  = "succeeded"
	DeliveryFailed     = "failed"
)

// WebhookDelivery is one outbox row: event EventID must be POSTed to SubscriptionID.
// Only the attempt bookkeeping columns change after insert.
type WebhookDelivery struct {
	ID             string         `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriptionID string         `gorm:"type:uuid;not null;index" json:"subscription_id"`
	ProjectID      string         `gorm:"type:uuid;not null;index" json:"project_id"`
	EventID        string         `gorm:"type:uuid;not null;index" json:"event_id"`
	EventType      string         `gorm:"type:varchar(100);not null" json:"event_type"`
	TargetURL      string         `gorm:"type:text;not null" json:"target_url"`
	Secret         *string        `gorm:"type:text" json:"-"`
	Payload        datatypes.JSON `gorm:"type:jsonb;not null" json:"payload" swaggertype:"object"`
	Status         string         `gorm:"type:varchar(16);not null" json:"status"`
	AttemptCount   int            `gorm:"not null;default:0" json:"attempt_count"`
	NextAttemptAt  time.Time      `gorm:"type:timestamptz;not null" json:"next_attempt_at"`
	LockedUntil    *time.Time     `gorm:"type:timestamptz" json:"locked_until,omitempty"`
	LastError      *string        `gorm:"type:text" json:"last_error,omitempty"`
	LastStatusCode *int           `json:"last_status_code,omitempty"`
	DeliveredAt    *time.Time     `gorm:"type:timestamptz" json:"delivered_at,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
