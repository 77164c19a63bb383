package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
)

// ErrUnavailable is returned by services constructed without a store.
var ErrUnavailable = errors.New("repository unavailable")

// Transactor runs fn in a database transaction. When ctx already carries a
// transaction (see WithTx) fn joins it instead of opening a new one.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ExperimentRepository interface {
	CreateExperimentTx(ctx context.Context, tx *gorm.DB, item *models.Experiment) error
	GetExperiment(ctx context.Context, projectID, id string) (*models.Experiment, error)
	GetExperimentForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.Experiment, error)
	UpdateExperimentTx(ctx context.Context, tx *gorm.DB, item *models.Experiment) error
	ListExperiments(ctx context.Context, params ListExperimentsParams) ([]models.Experiment, error)
	CountExperiments(ctx context.Context, params ListExperimentsParams) (int64, error)
}

type RunRepository interface {
	CreateRunTx(ctx context.Context, tx *gorm.DB, item *models.Run) error
	GetRun(ctx context.Context, projectID, id string) (*models.Run, error)
	GetRunForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.Run, error)
	ListRunsForUpdateTx(ctx context.Context, tx *gorm.DB, projectID string, ids []string) ([]models.Run, error)
	UpdateRunTx(ctx context.Context, tx *gorm.DB, item *models.Run) error
	ListRuns(ctx context.Context, params ListRunsParams) ([]models.Run, error)
	CountRuns(ctx context.Context, params ListRunsParams) (int64, error)
	// CountOpenCaptureSessionsTx returns, per run id, the number of capture sessions
	// in draft, running or backfilling. Runs without open sessions are absent.
	CountOpenCaptureSessionsTx(ctx context.Context, tx *gorm.DB, runIDs []string) (map[string]int, error)
}

type CaptureSessionRepository interface {
	CreateCaptureSessionTx(ctx context.Context, tx *gorm.DB, item *models.CaptureSession) error
	GetCaptureSession(ctx context.Context, projectID, id string) (*models.CaptureSession, error)
	GetCaptureSessionForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.CaptureSession, error)
	UpdateCaptureSessionTx(ctx context.Context, tx *gorm.DB, item *models.CaptureSession) error
	DeleteCaptureSessionTx(ctx context.Context, tx *gorm.DB, id string) error
	ListCaptureSessions(ctx context.Context, params ListCaptureSessionsParams) ([]models.CaptureSession, error)
	CountCaptureSessions(ctx context.Context, params ListCaptureSessionsParams) (int64, error)
	NextCaptureOrdinalTx(ctx context.Context, tx *gorm.DB, runID string) (int, error)
	// FindActiveCaptureSessionTx returns the newest running/backfilling, non-archived
	// session of the project, restricted to runID when it is set.
	FindActiveCaptureSessionTx(ctx context.Context, tx *gorm.DB, projectID string, runID *string) (*models.CaptureSession, error)
	ListStaleCaptureSessions(ctx context.Context, startedBefore time.Time, limit int) ([]models.CaptureSession, error)
	CountActiveSessionsUsingSensorTx(ctx context.Context, tx *gorm.DB, sensorID string) (int64, error)
}

type SensorRepository interface {
	CreateSensorTx(ctx context.Context, tx *gorm.DB, item *models.Sensor, projectIDs []string) error
	GetSensor(ctx context.Context, projectID, id string) (*models.Sensor, error)
	GetSensorForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.Sensor, error)
	GetSensorByTokenHashTx(ctx context.Context, tx *gorm.DB, tokenHash string) (*models.Sensor, error)
	UpdateSensorTx(ctx context.Context, tx *gorm.DB, item *models.Sensor) error
	ListSensors(ctx context.Context, params ListSensorsParams) ([]models.Sensor, error)
	CountSensors(ctx context.Context, params ListSensorsParams) (int64, error)
	ListSensorProjectIDs(ctx context.Context, sensorID string) ([]string, error)
	AddSensorProjectTx(ctx context.Context, tx *gorm.DB, sensorID, projectID string) error
	RemoveSensorProjectTx(ctx context.Context, tx *gorm.DB, sensorID, projectID string) (bool, error)
	TouchSensorHeartbeatTx(ctx context.Context, tx *gorm.DB, sensorID string, at time.Time) error
}

type ConversionProfileRepository interface {
	CreateConversionProfileTx(ctx context.Context, tx *gorm.DB, item *models.ConversionProfile) error
	GetConversionProfileForUpdateTx(ctx context.Context, tx *gorm.DB, sensorID, id string) (*models.ConversionProfile, error)
	GetActiveConversionProfileTx(ctx context.Context, tx *gorm.DB, sensorID string) (*models.ConversionProfile, error)
	UpdateConversionProfileTx(ctx context.Context, tx *gorm.DB, item *models.ConversionProfile) error
	ListConversionProfiles(ctx context.Context, params ListConversionProfilesParams) ([]models.ConversionProfile, error)
	CountConversionProfiles(ctx context.Context, params ListConversionProfilesParams) (int64, error)
}

type AuditRepository interface {
	InsertAuditEventsTx(ctx context.Context, tx *gorm.DB, items []models.AuditEvent) error
	ListAuditEvents(ctx context.Context, params ListAuditEventsParams) ([]models.AuditEvent, error)
	CountAuditEvents(ctx context.Context, params ListAuditEventsParams) (int64, error)
}

type WebhookRepository interface {
	CreateWebhookSubscription(ctx context.Context, item *models.WebhookSubscription) error
	GetWebhookSubscription(ctx context.Context, projectID, id string) (*models.WebhookSubscription, error)
	ListWebhookSubscriptions(ctx context.Context, params ListWebhookSubscriptionsParams) ([]models.WebhookSubscription, error)
	CountWebhookSubscriptions(ctx context.Context, params ListWebhookSubscriptionsParams) (int64, error)
	// DeleteWebhookSubscription deactivates the subscription and keeps its delivery history.
	DeleteWebhookSubscription(ctx context.Context, projectID, id string) (bool, error)
	ListMatchingSubscriptionsTx(ctx context.Context, tx *gorm.DB, projectID, eventType string) ([]models.WebhookSubscription, error)
	InsertWebhookDeliveriesTx(ctx context.Context, tx *gorm.DB, items []models.WebhookDelivery) error

	// ClaimDueDeliveries moves up to limit due pending deliveries to in_progress with
	// locked_until = now + lease. Concurrent claimers never receive the same row.
	ClaimDueDeliveries(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.WebhookDelivery, error)
	CompleteDeliveryAttempt(ctx context.Context, id string, outcome DeliveryOutcome) error
	ReclaimExpiredDeliveries(ctx context.Context, now time.Time, maxAttempts int) (int64, error)
	PurgeSucceededDeliveries(ctx context.Context, before time.Time) (int64, error)
	GetWebhookDelivery(ctx context.Context, projectID, id string) (*models.WebhookDelivery, error)
	ListWebhookDeliveries(ctx context.Context, params ListWebhookDeliveriesParams) ([]models.WebhookDelivery, error)
	CountWebhookDeliveries(ctx context.Context, params ListWebhookDeliveriesParams) (int64, error)
	// RequeueFailedDelivery resets a failed delivery to pending with zero attempts.
	// It returns false when the delivery is not in failed status or its subscription was deleted.
	RequeueFailedDelivery(ctx context.Context, projectID, id string, now time.Time) (bool, error)
}

type IdempotencyRepository interface {
	DeleteExpiredIdempotencyKeyTx(ctx context.Context, tx *gorm.DB, key string, now time.Time) error
	// ReserveIdempotencyKeyTx inserts item unless the key exists; it reports whether the row was inserted.
	ReserveIdempotencyKeyTx(ctx context.Context, tx *gorm.DB, item *models.IdempotencyKey) (bool, error)
	GetIdempotencyKeyTx(ctx context.Context, tx *gorm.DB, key string) (*models.IdempotencyKey, error)
	SaveIdempotencyResponseTx(ctx context.Context, tx *gorm.DB, key string, status int, body []byte) error
	DeleteExpiredIdempotencyKeys(ctx context.Context, now time.Time) (int64, error)
}

type TelemetryRepository interface {
	GetRunInProjectsTx(ctx context.Context, tx *gorm.DB, projectIDs []string, id string) (*models.Run, error)
	GetCaptureSessionInProjectsTx(ctx context.Context, tx *gorm.DB, projectIDs []string, id string) (*models.CaptureSession, error)
	ListSensorProjectIDsTx(ctx context.Context, tx *gorm.DB, sensorID string) ([]string, error)
	InsertTelemetryRecordsTx(ctx context.Context, tx *gorm.DB, items []models.TelemetryRecord, chunkSize int) error
	AttachLateRecordsTx(ctx context.Context, tx *gorm.DB, captureSessionID string) (int64, error)
	QueryCaptureTelemetry(ctx context.Context, params CaptureTelemetryQuery) ([]models.TelemetryRecord, error)
	QuerySensorTelemetry(ctx context.Context, params SensorTelemetryQuery) ([]models.TelemetryRecord, error)
	ListTelemetryAfter(ctx context.Context, params TelemetryStreamQuery) ([]models.TelemetryRecord, error)
	RefreshRollups(ctx context.Context, since time.Time) (int64, error)
	ListRollups(ctx context.Context, params RollupQuery) ([]models.TelemetryRollup, error)
	ListArchiveCandidates(ctx context.Context, before time.Time, limit int) ([]ArchiveBucket, error)
	ListTelemetryForArchive(ctx context.Context, bucket ArchiveBucket) ([]models.TelemetryRecord, error)
	// SaveArchiveTx stores the archive row and deletes the archived raw rows in one step.
	SaveArchiveTx(ctx context.Context, tx *gorm.DB, item *models.TelemetryArchive, bucket ArchiveBucket) (int64, error)
	ListTelemetryArchives(ctx context.Context, sensorID string, limit, offset int) ([]models.TelemetryArchive, error)
}

// Repository is the full store used by the server process.
type Repository interface {
	Transactor
	ExperimentRepository
	RunRepository
	CaptureSessionRepository
	SensorRepository
	ConversionProfileRepository
	AuditRepository
	WebhookRepository
	IdempotencyRepository
	TelemetryRepository
}

type ListExperimentsParams struct {
	Limit     int
	Offset    int
	ProjectID string
	Status    *lifecycle.Status
	Tag       *string
	Search    *string
	OrderBy   string
	Asc       *bool
}

type ListRunsParams struct {
	Limit        int
	Offset       int
	ProjectID    string
	ExperimentID *string
	Status       *lifecycle.Status
	Tag          *string
	OrderBy      string
	Asc          *bool
}

type ListCaptureSessionsParams struct {
	Limit           int
	Offset          int
	ProjectID       string
	RunID           *string
	Status          *lifecycle.Status
	IncludeArchived bool
	OrderBy         string
	Asc             *bool
}

type ListSensorsParams struct {
	Limit     int
	Offset    int
	ProjectID string
	Status    *lifecycle.Status
	OrderBy   string
	Asc       *bool
}

type ListConversionProfilesParams struct {
	Limit    int
	Offset   int
	SensorID string
	Status   *lifecycle.Status
}

type ListAuditEventsParams struct {
	Limit      int
	Offset     int
	ProjectID  string
	EntityKind string
	EntityID   string
}

type ListWebhookSubscriptionsParams struct {
	Limit     int
	Offset    int
	ProjectID string
}

type ListWebhookDeliveriesParams struct {
	Limit          int
	Offset         int
	ProjectID      string
	SubscriptionID *string
	Status         *string
	EventID        *string
}

// DeliveryOutcome is the attempt bookkeeping written after one POST.
type DeliveryOutcome struct {
	Status         string
	AttemptCount   int
	NextAttemptAt  time.Time
	LastError      *string
	LastStatusCode *int
	DeliveredAt    *time.Time
}

type CaptureTelemetryQuery struct {
	CaptureSessionID string
	SensorIDs        []string
	SinceID          int64
	Limit            int
	IncludeLate      bool
	Asc              bool
}

type SensorTelemetryQuery struct {
	SensorID string
	Signal   *string
	From     *time.Time
	To       *time.Time
	Limit    int
	Asc      bool
}

type TelemetryStreamQuery struct {
	SensorIDs        []string
	CaptureSessionID *string
	AfterID          int64
	Limit            int
}

type RollupQuery struct {
	SensorID string
	Signal   *string
	From     time.Time
	To       time.Time
	Limit    int
}

// ArchiveBucket is one sensor/day slice of raw telemetry. MaxID bounds the
// delete so rows inserted after the slice was read survive.
type ArchiveBucket struct {
	SensorID string
	Day      time.Time
	Records  int64
	MaxID    int64
}
