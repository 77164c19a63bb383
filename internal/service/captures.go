package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"experimentservice/internal/apperr"
	"experimentservice/internal/audit"
	"experimentservice/internal/auth"
	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

const (
	ReasonRunNotActive       = "run_not_active"
	ReasonActiveCaptureInUse = "active_capture_session_exists"
	ReasonOrdinalConflict    = "ordinal_conflict"

	captureActiveIndex  = "ux_capture_sessions_project_active"
	captureOrdinalIndex = "ux_capture_sessions_run_ordinal"
)

type CaptureService struct {
	Repo   repository.Repository
	Audit  *audit.Recorder
	Logger *zap.Logger
	Now    func() time.Time
}

type CreateCaptureInput struct {
	Status lifecycle.Status `json:"status"`
	Notes  *string          `json:"notes"`
}

type StopCaptureInput struct {
	Status lifecycle.Status `json:"status"`
	Notes  *string          `json:"notes"`
}

type UpdateCaptureInput struct {
	Status   *lifecycle.Status `json:"status"`
	Notes    *string           `json:"notes"`
	Archived *bool             `json:"archived"`
}

// Create opens a capture session under a run. The run row lock serializes
// ordinal assignment; the project-wide active index backs the one recording
// session rule.
func (s *CaptureService) Create(ctx context.Context, id auth.Identity, runID string, in CreateCaptureInput) (*models.CaptureSession, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	status := in.Status
	if status == "" {
		status = lifecycle.StatusRunning
	}
	if status != lifecycle.StatusDraft && status != lifecycle.StatusRunning {
		return nil, apperr.Validation(lifecycle.ReasonUnknownStatus, "capture sessions start as draft or running, got %q", status)
	}

	var out *models.CaptureSession
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		run, err := s.Repo.GetRunForUpdateTx(ctx, tx, id.ProjectID, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return apperr.NotFound("run")
		}
		if run.Status != lifecycle.StatusDraft && run.Status != lifecycle.StatusRunning {
			return apperr.Conflict(ReasonRunNotActive, "run is %s; capture sessions need a draft or running run", run.Status)
		}
		if status == lifecycle.StatusRunning {
			if err := s.ensureNoActive(ctx, tx, run.ProjectID, ""); err != nil {
				return err
			}
		}
		ordinal, err := s.Repo.NextCaptureOrdinalTx(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		item := &models.CaptureSession{
			ID:            newID(),
			ProjectID:     run.ProjectID,
			RunID:         run.ID,
			OrdinalNumber: ordinal,
			Status:        status,
			Notes:         in.Notes,
		}
		if id.UserID != "" {
			initiator := id.UserID
			item.InitiatedBy = &initiator
		}
		if status == lifecycle.StatusRunning {
			now := clock(s.Now)
			item.StartedAt = &now
		}
		if err := s.Repo.CreateCaptureSessionTx(ctx, tx, item); err != nil {
			return captureWriteErr(err)
		}
		out = item
		return s.Audit.RecordTx(ctx, tx, captureEvent(id, item, audit.CaptureCreated, map[string]any{
			"run_id": item.RunID, "ordinal_number": item.OrdinalNumber, "status": item.Status,
		}))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CaptureService) Get(ctx context.Context, projectID, runID, id string) (*models.CaptureSession, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	item, err := s.Repo.GetCaptureSession(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if item == nil || (runID != "" && item.RunID != runID) {
		return nil, apperr.NotFound("capture_session")
	}
	return item, nil
}

func (s *CaptureService) List(ctx context.Context, params repository.ListCaptureSessionsParams) ([]models.CaptureSession, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, repository.ErrUnavailable
	}
	if params.Status != nil && !lifecycle.Valid(lifecycle.KindCaptureSession, *params.Status) {
		return nil, 0, apperr.Validation(lifecycle.ReasonUnknownStatus, "unknown capture session status %q", *params.Status)
	}
	items, err := s.Repo.ListCaptureSessions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountCaptureSessions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Stop ends recording. Only running or backfilling sessions can stop.
func (s *CaptureService) Stop(ctx context.Context, id auth.Identity, runID, captureID string, in StopCaptureInput) (*models.CaptureSession, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	to := in.Status
	if to == "" {
		to = lifecycle.StatusSucceeded
	}
	if !lifecycle.IsStopped(to) {
		return nil, apperr.Validation(lifecycle.ReasonUnknownStatus, "stop status must be succeeded or failed, got %q", to)
	}
	return s.mutate(ctx, runID, captureID, id, func(tx *gorm.DB, item *models.CaptureSession) ([]audit.Event, error) {
		from := item.Status
		decision := lifecycle.CanTransition(lifecycle.KindCaptureSession, from, to, lifecycle.Context{})
		if err := decision.Err(lifecycle.KindCaptureSession, from, to); err != nil {
			return nil, err
		}
		s.applyStatus(item, to)
		if in.Notes != nil {
			item.Notes = in.Notes
		}
		return []audit.Event{captureEvent(id, item, audit.CaptureStopped, map[string]any{"from": from, "to": to})}, nil
	})
}

func (s *CaptureService) Update(ctx context.Context, id auth.Identity, runID, captureID string, in UpdateCaptureInput) (*models.CaptureSession, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	return s.mutate(ctx, runID, captureID, id, func(tx *gorm.DB, item *models.CaptureSession) ([]audit.Event, error) {
		var events []audit.Event
		changed := map[string]any{}
		if in.Notes != nil {
			item.Notes = in.Notes
			changed["notes"] = true
		}
		if in.Archived != nil && *in.Archived != item.Archived {
			if *in.Archived && lifecycle.IsRecording(item.Status) {
				return nil, apperr.Conflict(lifecycle.ReasonCaptureActive, "stop the capture session before archiving it")
			}
			item.Archived = *in.Archived
			changed["archived"] = item.Archived
		}
		if len(changed) > 0 {
			events = append(events, captureEvent(id, item, audit.CaptureUpdated, map[string]any{"changes": changed}))
		}
		if in.Status != nil {
			from, to := item.Status, *in.Status
			decision := lifecycle.CanTransition(lifecycle.KindCaptureSession, from, to, lifecycle.Context{})
			if err := decision.Err(lifecycle.KindCaptureSession, from, to); err != nil {
				return nil, err
			}
			if !decision.Noop {
				if lifecycle.IsRecording(to) && !lifecycle.IsRecording(from) {
					if err := s.ensureNoActive(ctx, tx, item.ProjectID, item.ID); err != nil {
						return nil, err
					}
				}
				s.applyStatus(item, to)
				events = append(events, captureEvent(id, item, audit.CaptureStatusChanged, map[string]any{"from": from, "to": to}))
			}
		}
		return events, nil
	})
}

// StartBackfill reopens a succeeded session so buffered telemetry can be
// uploaded against it.
func (s *CaptureService) StartBackfill(ctx context.Context, id auth.Identity, runID, captureID string) (*models.CaptureSession, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	return s.mutate(ctx, runID, captureID, id, func(tx *gorm.DB, item *models.CaptureSession) ([]audit.Event, error) {
		if item.Archived {
			return nil, apperr.Conflict(lifecycle.ReasonArchivedScope, "capture session is archived")
		}
		from := item.Status
		decision := lifecycle.CanTransition(lifecycle.KindCaptureSession, from, lifecycle.StatusBackfilling, lifecycle.Context{})
		if decision.Noop {
			return nil, nil
		}
		if err := decision.Err(lifecycle.KindCaptureSession, from, lifecycle.StatusBackfilling); err != nil {
			return nil, err
		}
		if err := s.ensureNoActive(ctx, tx, item.ProjectID, item.ID); err != nil {
			return nil, err
		}
		item.Status = lifecycle.StatusBackfilling
		return []audit.Event{captureEvent(id, item, audit.CaptureBackfillStarted, map[string]any{"from": from})}, nil
	})
}

// CompleteBackfill closes a backfill and attaches the late telemetry that was
// recorded for this session while it was stopped.
func (s *CaptureService) CompleteBackfill(ctx context.Context, id auth.Identity, runID, captureID string) (*models.CaptureSession, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, repository.ErrUnavailable
	}
	var attached int64
	item, err := s.mutate(ctx, runID, captureID, id, func(tx *gorm.DB, item *models.CaptureSession) ([]audit.Event, error) {
		from := item.Status
		if from != lifecycle.StatusBackfilling {
			return nil, apperr.Conflict(lifecycle.ReasonInvalidTransition, "capture session is %s, not backfilling", from)
		}
		n, err := s.Repo.AttachLateRecordsTx(ctx, tx, item.ID)
		if err != nil {
			return nil, err
		}
		attached = n
		item.Status = lifecycle.StatusSucceeded
		now := clock(s.Now)
		item.StoppedAt = &now
		return []audit.Event{captureEvent(id, item, audit.CaptureBackfillCompleted, map[string]any{"attached_records": n})}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return item, attached, nil
}

func (s *CaptureService) Delete(ctx context.Context, id auth.Identity, runID, captureID string) error {
	if s == nil || s.Repo == nil {
		return repository.ErrUnavailable
	}
	return s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		item, err := s.lockOwned(ctx, tx, id.ProjectID, runID, captureID)
		if err != nil {
			return err
		}
		decision := lifecycle.CanRemove(lifecycle.KindCaptureSession, item.Status, lifecycle.Context{})
		if !decision.Allowed {
			return apperr.Conflict(decision.Reason, "capture session is %s and cannot be deleted", item.Status)
		}
		if err := s.Repo.DeleteCaptureSessionTx(ctx, tx, item.ID); err != nil {
			return err
		}
		return s.Audit.RecordTx(ctx, tx, captureEvent(id, item, audit.CaptureDeleted, map[string]any{
			"run_id": item.RunID, "ordinal_number": item.OrdinalNumber, "status": item.Status,
		}))
	})
}

// FailStale marks sessions that have been recording longer than staleAfter
// as failed. It returns how many sessions were closed.
func (s *CaptureService) FailStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	if s == nil || s.Repo == nil {
		return 0, repository.ErrUnavailable
	}
	if staleAfter <= 0 {
		return 0, nil
	}
	cutoff := clock(s.Now).Add(-staleAfter)
	stale, err := s.Repo.ListStaleCaptureSessions(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}
	system := auth.Identity{UserID: systemActor}
	closed := 0
	for _, candidate := range stale {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
			item, err := s.Repo.GetCaptureSessionForUpdateTx(ctx, tx, candidate.ProjectID, candidate.ID)
			if err != nil || item == nil || !lifecycle.IsRecording(item.Status) {
				return err
			}
			from := item.Status
			s.applyStatus(item, lifecycle.StatusFailed)
			if err := s.Repo.UpdateCaptureSessionTx(ctx, tx, item); err != nil {
				return err
			}
			closed++
			return s.Audit.RecordTx(ctx, tx, captureEvent(system, item, audit.CaptureStatusChanged, map[string]any{
				"from": from, "to": item.Status, "reason": "stale",
			}))
		})
		if err != nil && s.Logger != nil {
			s.Logger.Warn("stale capture session not closed", zap.String("capture_session_id", candidate.ID), zap.Error(err))
		}
	}
	return closed, nil
}

// mutate locks a session owned by runID, applies fn and persists the result
// with its audit events. fn returning no events leaves the row untouched.
func (s *CaptureService) mutate(
	ctx context.Context,
	runID, captureID string,
	id auth.Identity,
	fn func(tx *gorm.DB, item *models.CaptureSession) ([]audit.Event, error),
) (*models.CaptureSession, error) {
	var out *models.CaptureSession
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		item, err := s.lockOwned(ctx, tx, id.ProjectID, runID, captureID)
		if err != nil {
			return err
		}
		events, err := fn(tx, item)
		if err != nil {
			return err
		}
		if len(events) > 0 {
			if err := s.Repo.UpdateCaptureSessionTx(ctx, tx, item); err != nil {
				return captureWriteErr(err)
			}
			if err := s.Audit.RecordTx(ctx, tx, events...); err != nil {
				return err
			}
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CaptureService) lockOwned(ctx context.Context, tx *gorm.DB, projectID, runID, captureID string) (*models.CaptureSession, error) {
	item, err := s.Repo.GetCaptureSessionForUpdateTx(ctx, tx, projectID, captureID)
	if err != nil {
		return nil, err
	}
	if item == nil || (runID != "" && item.RunID != runID) {
		return nil, apperr.NotFound("capture_session")
	}
	return item, nil
}

func (s *CaptureService) ensureNoActive(ctx context.Context, tx *gorm.DB, projectID, exceptID string) error {
	active, err := s.Repo.FindActiveCaptureSessionTx(ctx, tx, projectID, nil)
	if err != nil {
		return err
	}
	if active != nil && active.ID != exceptID {
		return apperr.Conflict(ReasonActiveCaptureInUse, "capture session %s is already recording in this project", active.ID).
			WithIDs([]string{active.ID})
	}
	return nil
}

func (s *CaptureService) applyStatus(item *models.CaptureSession, to lifecycle.Status) {
	now := clock(s.Now)
	if lifecycle.IsStopped(to) && lifecycle.IsRecording(item.Status) {
		item.StoppedAt = &now
	}
	if to == lifecycle.StatusRunning && item.StartedAt == nil {
		item.StartedAt = &now
	}
	item.Status = to
}

func captureWriteErr(err error) error {
	switch {
	case apperr.IsUniqueViolation(err, captureActiveIndex):
		return apperr.Conflict(ReasonActiveCaptureInUse, "another capture session is already recording in this project")
	case apperr.IsUniqueViolation(err, captureOrdinalIndex):
		return apperr.Conflict(ReasonOrdinalConflict, "capture session ordinal was taken concurrently, retry")
	}
	return err
}

func captureEvent(id auth.Identity, item *models.CaptureSession, typ string, payload map[string]any) audit.Event {
	return audit.Event{
		ProjectID:  item.ProjectID,
		EntityKind: string(lifecycle.KindCaptureSession),
		EntityID:   item.ID,
		Type:       typ,
		Actor:      actorOf(id),
		Payload:    payload,
	}
}
