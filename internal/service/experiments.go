package service

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"experimentservice/internal/apperr"
	"experimentservice/internal/audit"
	"experimentservice/internal/auth"
	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

const (
	ReasonNameTaken          = "name_taken"
	ReasonExperimentArchived = "experiment_archived"

	experimentNameIndex = "ux_experiments_project_lower_name"
)

type ExperimentService struct {
	Repo  repository.Repository
	Audit *audit.Recorder
	Now   func() time.Time
}

type CreateExperimentInput struct {
	Name           string           `json:"name"`
	Description    *string          `json:"description"`
	ExperimentType *string          `json:"experiment_type"`
	Tags           []string         `json:"tags"`
	Metadata       json.RawMessage  `json:"metadata" swaggertype:"object"`
	Status         lifecycle.Status `json:"status"`
}

type UpdateExperimentInput struct {
	Name           *string           `json:"name"`
	Description    *string           `json:"description"`
	ExperimentType *string           `json:"experiment_type"`
	Tags           *[]string         `json:"tags"`
	Metadata       json.RawMessage   `json:"metadata" swaggertype:"object"`
	Status         *lifecycle.Status `json:"status"`
}

func (s *ExperimentService) Create(ctx context.Context, id auth.Identity, in CreateExperimentInput) (*models.Experiment, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	name, err := cleanName("name", in.Name)
	if err != nil {
		return nil, err
	}
	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}
	meta, err := document("metadata", in.Metadata)
	if err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = lifecycle.StatusDraft
	}
	if status != lifecycle.StatusDraft && status != lifecycle.StatusRunning {
		return nil, apperr.Validation(lifecycle.ReasonUnknownStatus, "experiments start as draft or running, got %q", status)
	}

	item := &models.Experiment{
		ID:             newID(),
		ProjectID:      id.ProjectID,
		OwnerID:        id.UserID,
		Name:           name,
		Description:    trimmedPtr(in.Description),
		ExperimentType: trimmedPtr(in.ExperimentType),
		Tags:           tagsJSON(tags),
		Metadata:       meta,
		Status:         status,
	}
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.CreateExperimentTx(ctx, tx, item); err != nil {
			if apperr.IsUniqueViolation(err, experimentNameIndex) {
				return apperr.Conflict(ReasonNameTaken, "experiment name %q is already used in this project", name)
			}
			return err
		}
		return s.Audit.RecordTx(ctx, tx, audit.Event{
			ProjectID:  item.ProjectID,
			EntityKind: string(lifecycle.KindExperiment),
			EntityID:   item.ID,
			Type:       audit.ExperimentCreated,
			Actor:      actorOf(id),
			Payload:    map[string]any{"name": item.Name, "status": item.Status},
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *ExperimentService) Get(ctx context.Context, projectID, id string) (*models.Experiment, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	item, err := s.Repo.GetExperiment(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperr.NotFound("experiment")
	}
	return item, nil
}

func (s *ExperimentService) List(ctx context.Context, params repository.ListExperimentsParams) ([]models.Experiment, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, repository.ErrUnavailable
	}
	if params.Status != nil && !lifecycle.Valid(lifecycle.KindExperiment, *params.Status) {
		return nil, 0, apperr.Validation(lifecycle.ReasonUnknownStatus, "unknown experiment status %q", *params.Status)
	}
	items, err := s.Repo.ListExperiments(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountExperiments(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update applies a partial change. A status change goes through the state
// machine; archiving is allowed from any other status.
func (s *ExperimentService) Update(ctx context.Context, id auth.Identity, experimentID string, in UpdateExperimentInput) (*models.Experiment, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	var (
		name *string
		tags []string
		meta []byte
		err  error
	)
	if in.Name != nil {
		n, err := cleanName("name", *in.Name)
		if err != nil {
			return nil, err
		}
		name = &n
	}
	if in.Tags != nil {
		if tags, err = normalizeTags(*in.Tags); err != nil {
			return nil, err
		}
	}
	if len(in.Metadata) > 0 {
		if meta, err = document("metadata", in.Metadata); err != nil {
			return nil, err
		}
	}

	var out *models.Experiment
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		item, err := s.Repo.GetExperimentForUpdateTx(ctx, tx, id.ProjectID, experimentID)
		if err != nil {
			return err
		}
		if item == nil {
			return apperr.NotFound("experiment")
		}
		changed := map[string]any{}
		if name != nil && *name != item.Name {
			item.Name = *name
			changed["name"] = *name
		}
		if in.Description != nil {
			item.Description = trimmedPtr(in.Description)
			changed["description"] = item.Description
		}
		if in.ExperimentType != nil {
			item.ExperimentType = trimmedPtr(in.ExperimentType)
			changed["experiment_type"] = item.ExperimentType
		}
		if in.Tags != nil {
			item.Tags = tagsJSON(tags)
			changed["tags"] = tags
		}
		if meta != nil {
			item.Metadata = meta
			changed["metadata"] = true
		}

		var events []audit.Event
		if in.Status != nil {
			from := item.Status
			decision := lifecycle.CanTransition(lifecycle.KindExperiment, from, *in.Status, lifecycle.Context{})
			if err := decision.Err(lifecycle.KindExperiment, from, *in.Status); err != nil {
				return err
			}
			if !decision.Noop {
				item.Status = *in.Status
				if item.Status == lifecycle.StatusArchived {
					now := clock(s.Now)
					item.ArchivedAt = &now
				}
				events = append(events, s.event(id, item, audit.ExperimentStatusChanged, map[string]any{
					"from": from, "to": item.Status,
				}))
			}
		}
		if len(changed) > 0 {
			events = append([]audit.Event{s.event(id, item, audit.ExperimentUpdated, map[string]any{"changes": changed})}, events...)
		}
		if len(events) > 0 {
			if err := s.Repo.UpdateExperimentTx(ctx, tx, item); err != nil {
				if apperr.IsUniqueViolation(err, experimentNameIndex) {
					return apperr.Conflict(ReasonNameTaken, "experiment name %q is already used in this project", item.Name)
				}
				return err
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

func (s *ExperimentService) event(id auth.Identity, item *models.Experiment, typ string, payload map[string]any) audit.Event {
	return audit.Event{
		ProjectID:  item.ProjectID,
		EntityKind: string(lifecycle.KindExperiment),
		EntityID:   item.ID,
		Type:       typ,
		Actor:      actorOf(id),
		Payload:    payload,
	}
}
