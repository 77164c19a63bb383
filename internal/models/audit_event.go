package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent is an immutable record of an accepted transition or bulk operation.
type AuditEvent struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID  string         `gorm:"type:uuid;not null" json:"project_id"`
	EntityKind string         `gorm:"type:varchar(32);not null" json:"entity_kind"`
	EntityID   string         `gorm:"type:uuid;not null" json:"entity_id"`
	EventType  string         `gorm:"type:varchar(100);not null" json:"event_type"`
	ActorID    string         `gorm:"type:varchar(64);not null" json:"actor_id"`
	ActorRole  *string        `gorm:"type:varchar(32)" json:"actor_role,omitempty"`
	Payload    datatypes.JSON `gorm:"type:jsonb;not null" json:"payload" swaggertype:"object"`
	CreatedAt  time.Time      `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}
