// Package audit appends immutable event rows and hands every event to the
// webhook outbox inside the caller's transaction.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

const (
	ExperimentCreated       = "experiment.created"
	ExperimentUpdated       = "experiment.updated"
	ExperimentStatusChanged = "experiment.status_changed"

	RunCreated       = "run.created"
	RunUpdated       = "run.updated"
	RunStatusChanged = "run.status_changed"
	RunTagsUpdated   = "run.tags_updated"

	CaptureCreated           = "capture_session.created"
	CaptureUpdated           = "capture_session.updated"
	CaptureStopped           = "capture_session.stopped"
	CaptureStatusChanged     = "capture_session.status_changed"
	CaptureDeleted           = "capture_session.deleted"
	CaptureBackfillStarted   = "capture_session.backfill_started"
	CaptureBackfillCompleted = "capture_session.backfill_completed"

	SensorRegistered     = "sensor.registered"
	SensorUpdated        = "sensor.updated"
	SensorTokenRotated   = "sensor.token_rotated"
	SensorProjectAdded   = "sensor.project_added"
	SensorProjectRemoved = "sensor.project_removed"
	SensorDecommissioned = "sensor.decommissioned"

	ProfileCreated    = "conversion_profile.created"
	ProfilePublished  = "conversion_profile.published"
	ProfileDeprecated = "conversion_profile.deprecated"
)

// EventTypes lists every event a webhook may subscribe to.
var EventTypes = []string{
	ExperimentCreated, ExperimentUpdated, ExperimentStatusChanged,
	RunCreated, RunUpdated, RunStatusChanged, RunTagsUpdated,
	CaptureCreated, CaptureUpdated, CaptureStopped, CaptureStatusChanged, CaptureDeleted,
	CaptureBackfillStarted, CaptureBackfillCompleted,
	SensorRegistered, SensorUpdated, SensorTokenRotated, SensorProjectAdded, SensorProjectRemoved, SensorDecommissioned,
	ProfileCreated, ProfilePublished, ProfileDeprecated,
}

func KnownEventType(t string) bool {
	for _, known := range EventTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Actor is who caused the event.
type Actor struct {
	UserID string
	Role   string
}

type Event struct {
	ID         string
	ProjectID  string
	EntityKind string
	EntityID   string
	Type       string
	Actor      Actor
	Payload    map[string]any
	OccurredAt time.Time
}

// Emitter queues events for delivery in the same transaction.
type Emitter interface {
	EmitTx(ctx context.Context, tx *gorm.DB, events []Event) error
}

type Recorder struct {
	Repo   repository.AuditRepository
	Outbox Emitter
	Now    func() time.Time
}

// RecordTx stores one audit row per event and queues its deliveries. Event ids
// and timestamps are filled in when empty.
func (r *Recorder) RecordTx(ctx context.Context, tx *gorm.DB, events ...Event) error {
	if r == nil || len(events) == 0 {
		return nil
	}
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}
	rows := make([]models.AuditEvent, 0, len(events))
	for i := range events {
		ev := &events[i]
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = now
		}
		if ev.Payload == nil {
			ev.Payload = map[string]any{}
		}
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return err
		}
		var role *string
		if ev.Actor.Role != "" {
			v := ev.Actor.Role
			role = &v
		}
		rows = append(rows, models.AuditEvent{
			ProjectID:  ev.ProjectID,
			EntityKind: ev.EntityKind,
			EntityID:   ev.EntityID,
			EventType:  ev.Type,
			ActorID:    ev.Actor.UserID,
			ActorRole:  role,
			Payload:    datatypes.JSON(payload),
			CreatedAt:  ev.OccurredAt,
		})
	}
	if r.Repo != nil {
		if err := r.Repo.InsertAuditEventsTx(ctx, tx, rows); err != nil {
			return err
		}
	}
	if r.Outbox != nil {
		return r.Outbox.EmitTx(ctx, tx, events)
	}
	return nil
}
