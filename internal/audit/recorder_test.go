package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

type stubAuditRepo struct {
	rows []models.AuditEvent
	err  error
}

func (s *stubAuditRepo) InsertAuditEventsTx(ctx context.Context, tx *gorm.DB, items []models.AuditEvent) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, items...)
	return nil
}

func (s *stubAuditRepo) ListAuditEvents(ctx context.Context, params repository.ListAuditEventsParams) ([]models.AuditEvent, error) {
	return s.rows, nil
}

func (s *stubAuditRepo) CountAuditEvents(ctx context.Context, params repository.ListAuditEventsParams) (int64, error) {
	return int64(len(s.rows)), nil
}

type stubEmitter struct {
	events []Event
}

func (s *stubEmitter) EmitTx(ctx context.Context, tx *gorm.DB, events []Event) error {
	s.events = append(s.events, events...)
	return nil
}

func TestRecordTxWritesRowsAndEmits(t *testing.T) {
	repo := &stubAuditRepo{}
	out := &stubEmitter{}
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	r := &Recorder{Repo: repo, Outbox: out, Now: func() time.Time { return now }}

	err := r.RecordTx(context.Background(), nil,
		Event{ProjectID: "p", EntityKind: "run", EntityID: "r1", Type: RunStatusChanged,
			Actor: Actor{UserID: "u1", Role: "owner"}, Payload: map[string]any{"from": "running", "to": "succeeded"}},
		Event{ProjectID: "p", EntityKind: "run", EntityID: "r2", Type: RunStatusChanged, Actor: Actor{UserID: "u1"}},
	)
	if err != nil {
		t.Fatalf("record err=%v", err)
	}
	if len(repo.rows) != 2 || len(out.events) != 2 {
		t.Fatalf("rows=%d events=%d want=2", len(repo.rows), len(out.events))
	}
	if out.events[0].ID == "" || out.events[0].ID == out.events[1].ID {
		t.Fatalf("event ids not assigned: %q %q", out.events[0].ID, out.events[1].ID)
	}
	if !out.events[1].OccurredAt.Equal(now) || !repo.rows[0].CreatedAt.Equal(now) {
		t.Fatalf("timestamps not defaulted")
	}
	if repo.rows[0].ActorRole == nil || *repo.rows[0].ActorRole != "owner" || repo.rows[1].ActorRole != nil {
		t.Fatalf("actor roles=%v %v", repo.rows[0].ActorRole, repo.rows[1].ActorRole)
	}
	var payload map[string]any
	if err := json.Unmarshal(repo.rows[0].Payload, &payload); err != nil || payload["to"] != "succeeded" {
		t.Fatalf("payload=%s err=%v", repo.rows[0].Payload, err)
	}
	if string(repo.rows[1].Payload) != "{}" {
		t.Fatalf("empty payload=%s", repo.rows[1].Payload)
	}
}

func TestRecordTxStopsOnStoreError(t *testing.T) {
	repo := &stubAuditRepo{err: errors.New("down")}
	out := &stubEmitter{}
	r := &Recorder{Repo: repo, Outbox: out}
	if err := r.RecordTx(context.Background(), nil, Event{Type: RunCreated}); err == nil {
		t.Fatalf("expected error")
	}
	if len(out.events) != 0 {
		t.Fatalf("emitted=%d want=0", len(out.events))
	}
}

func TestKnownEventType(t *testing.T) {
	if !KnownEventType(CaptureBackfillCompleted) || KnownEventType("run.deleted") {
		t.Fatalf("event type catalogue mismatch")
	}
}
