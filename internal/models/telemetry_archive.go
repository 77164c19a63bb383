package models

import "time"

// TelemetryArchive records one compressed sensor/day export. Blob is set for the
// db sink and empty when the object lives in S3 under ObjectKey. Late data for an
// already archived day produces a second row for the same day.
type TelemetryArchive struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	SensorID    string    `gorm:"type:uuid;not null" json:"sensor_id"`
	Day         time.Time `gorm:"type:date;not null" json:"day"`
	Records     int64     `gorm:"not null" json:"records"`
	RawBytes    int64     `gorm:"not null" json:"raw_bytes"`
	StoredBytes int64     `gorm:"not null" json:"stored_bytes"`
	Sink        string    `gorm:"type:varchar(16);not null" json:"sink"`
	ObjectKey   *string   `gorm:"type:text" json:"object_key,omitempty"`
	Blob        []byte    `gorm:"type:bytea" json:"-"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (TelemetryArchive) TableName() string {
	return "telemetry_archives"
}
