package service

import (
	"context"

	"experimentservice/internal/apperr"
	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

// EventService reads the audit trail. Entities are checked first so a
// foreign id reads as not found rather than as an empty history.
type EventService struct {
	Repo repository.Repository
}

func (s *EventService) List(ctx context.Context, params repository.ListAuditEventsParams) ([]models.AuditEvent, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, repository.ErrUnavailable
	}
	if params.EntityID != "" {
		if err := s.checkEntity(ctx, params.ProjectID, lifecycle.Kind(params.EntityKind), params.EntityID); err != nil {
			return nil, 0, err
		}
	}
	items, err := s.Repo.ListAuditEvents(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountAuditEvents(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *EventService) checkEntity(ctx context.Context, projectID string, kind lifecycle.Kind, id string) error {
	var found bool
	switch kind {
	case lifecycle.KindExperiment:
		item, err := s.Repo.GetExperiment(ctx, projectID, id)
		if err != nil {
			return err
		}
		found = item != nil
	case lifecycle.KindRun:
		item, err := s.Repo.GetRun(ctx, projectID, id)
		if err != nil {
			return err
		}
		found = item != nil
	case lifecycle.KindCaptureSession:
		item, err := s.Repo.GetCaptureSession(ctx, projectID, id)
		if err != nil {
			return err
		}
		found = item != nil
	case lifecycle.KindSensor:
		item, err := s.Repo.GetSensor(ctx, projectID, id)
		if err != nil {
			return err
		}
		found = item != nil
	default:
		return apperr.Validation(ReasonInvalidInput, "unknown entity kind %q", kind)
	}
	if !found {
		return apperr.NotFound(string(kind))
	}
	return nil
}
