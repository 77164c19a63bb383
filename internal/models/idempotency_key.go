package models

import "time"

// IdempotencyKey stores the response of the first request made with Key.
// A row with ResponseStatus 0 is a reservation held by an open transaction.
type IdempotencyKey struct {
	Key             string    `gorm:"type:varchar(255);primaryKey"`
	UserID          string    `gorm:"type:varchar(64);not null"`
	Method          string    `gorm:"type:varchar(10);not null"`
	RequestPath     string    `gorm:"type:text;not null"`
	RequestBodyHash string    `gorm:"type:char(64);not null"`
	ResponseStatus  int       `gorm:"not null;default:0"`
	ResponseBody    []byte    `gorm:"type:bytea"`
	ExpiresAt       time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt       time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (IdempotencyKey) TableName() string {
	return "idempotency_keys"
}
