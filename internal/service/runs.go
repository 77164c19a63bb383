package service

import (
	"context"
	"encoding/json"
	"slices"
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
	ReasonRunArchived = "run_archived"

	TagsAdd    = "add"
	TagsRemove = "remove"
	TagsSet    = "set"
)

type RunService struct {
	Repo  repository.Repository
	Audit *audit.Recorder
	Now   func() time.Time
}

type CreateRunInput struct {
	ExperimentID string           `json:"experiment_id"`
	Name         *string          `json:"name"`
	Params       json.RawMessage  `json:"params" swaggertype:"object"`
	GitSHA       *string          `json:"git_sha"`
	Env          *string          `json:"env"`
	Notes        *string          `json:"notes"`
	Metadata     json.RawMessage  `json:"metadata" swaggertype:"object"`
	Tags         []string         `json:"tags"`
	Status       lifecycle.Status `json:"status"`
}

type UpdateRunInput struct {
	Name     *string           `json:"name"`
	Params   json.RawMessage   `json:"params" swaggertype:"object"`
	GitSHA   *string           `json:"git_sha"`
	Env      *string           `json:"env"`
	Notes    *string           `json:"notes"`
	Metadata json.RawMessage   `json:"metadata" swaggertype:"object"`
	Tags     *[]string         `json:"tags"`
	Status   *lifecycle.Status `json:"status"`
}

type BatchStatusInput struct {
	RunIDs []string         `json:"run_ids"`
	Status lifecycle.Status `json:"status"`
}

type BulkTagsInput struct {
	RunIDs []string `json:"run_ids"`
	Op     string   `json:"op"`
	Tags   []string `json:"tags"`
}

func (s *RunService) Create(ctx context.Context, id auth.Identity, in CreateRunInput) (*models.Run, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	if err := requireUUID("experiment_id", in.ExperimentID); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = lifecycle.StatusDraft
	}
	if status != lifecycle.StatusDraft && status != lifecycle.StatusRunning {
		return nil, apperr.Validation(lifecycle.ReasonUnknownStatus, "runs start as draft or running, got %q", status)
	}
	params, err := document("params", in.Params)
	if err != nil {
		return nil, err
	}
	meta, err := document("metadata", in.Metadata)
	if err != nil {
		return nil, err
	}
	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}

	item := &models.Run{
		ID:        newID(),
		ProjectID: id.ProjectID,
		CreatedBy: id.UserID,
		Name:      trimmedPtr(in.Name),
		Params:    params,
		GitSHA:    trimmedPtr(in.GitSHA),
		Env:       trimmedPtr(in.Env),
		Notes:     in.Notes,
		Metadata:  meta,
		Tags:      tagsJSON(tags),
	}
	applyRunStatus(item, status, clock(s.Now))

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		// The lock keeps the experiment from being archived underneath the new run.
		exp, err := s.Repo.GetExperimentForUpdateTx(ctx, tx, id.ProjectID, in.ExperimentID)
		if err != nil {
			return err
		}
		if exp == nil {
			return apperr.NotFound("experiment")
		}
		if exp.Status == lifecycle.StatusArchived {
			return apperr.Conflict(ReasonExperimentArchived, "experiment %s is archived", exp.ID)
		}
		item.ExperimentID = exp.ID
		if err := s.Repo.CreateRunTx(ctx, tx, item); err != nil {
			return err
		}
		return s.Audit.RecordTx(ctx, tx, runEvent(id, item, audit.RunCreated, map[string]any{
			"experiment_id": item.ExperimentID, "status": item.Status,
		}))
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *RunService) Get(ctx context.Context, projectID, id string) (*models.Run, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	item, err := s.Repo.GetRun(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperr.NotFound("run")
	}
	return item, nil
}

func (s *RunService) List(ctx context.Context, params repository.ListRunsParams) ([]models.Run, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, repository.ErrUnavailable
	}
	if params.Status != nil && !lifecycle.Valid(lifecycle.KindRun, *params.Status) {
		return nil, 0, apperr.Validation(lifecycle.ReasonUnknownStatus, "unknown run status %q", *params.Status)
	}
	items, err := s.Repo.ListRuns(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountRuns(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *RunService) Update(ctx context.Context, id auth.Identity, runID string, in UpdateRunInput) (*models.Run, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	var (
		params, meta []byte
		tags         []string
		err          error
	)
	if len(in.Params) > 0 {
		if params, err = document("params", in.Params); err != nil {
			return nil, err
		}
	}
	if len(in.Metadata) > 0 {
		if meta, err = document("metadata", in.Metadata); err != nil {
			return nil, err
		}
	}
	if in.Tags != nil {
		if tags, err = normalizeTags(*in.Tags); err != nil {
			return nil, err
		}
	}

	var out *models.Run
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		item, err := s.Repo.GetRunForUpdateTx(ctx, tx, id.ProjectID, runID)
		if err != nil {
			return err
		}
		if item == nil {
			return apperr.NotFound("run")
		}
		changed := map[string]any{}
		if in.Name != nil {
			item.Name = trimmedPtr(in.Name)
			changed["name"] = item.Name
		}
		if params != nil {
			item.Params = params
			changed["params"] = true
		}
		if in.GitSHA != nil {
			item.GitSHA = trimmedPtr(in.GitSHA)
			changed["git_sha"] = item.GitSHA
		}
		if in.Env != nil {
			item.Env = trimmedPtr(in.Env)
			changed["env"] = item.Env
		}
		if in.Notes != nil {
			item.Notes = in.Notes
			changed["notes"] = true
		}
		if meta != nil {
			item.Metadata = meta
			changed["metadata"] = true
		}
		if in.Tags != nil {
			item.Tags = tagsJSON(tags)
			changed["tags"] = tags
		}

		var events []audit.Event
		if len(changed) > 0 {
			events = append(events, runEvent(id, item, audit.RunUpdated, map[string]any{"changes": changed}))
		}
		if in.Status != nil {
			ev, err := s.transition(ctx, tx, id, item, *in.Status)
			if err != nil {
				return err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
		if len(events) > 0 {
			if err := s.Repo.UpdateRunTx(ctx, tx, item); err != nil {
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

// transition checks and applies a status change on a locked run. It returns
// nil when the run is already in the requested status.
func (s *RunService) transition(ctx context.Context, tx *gorm.DB, id auth.Identity, item *models.Run, to lifecycle.Status) (*audit.Event, error) {
	open, err := s.Repo.CountOpenCaptureSessionsTx(ctx, tx, []string{item.ID})
	if err != nil {
		return nil, err
	}
	from := item.Status
	decision := lifecycle.CanTransition(lifecycle.KindRun, from, to, lifecycle.Context{OpenCaptureSessions: open[item.ID]})
	if err := decision.Err(lifecycle.KindRun, from, to); err != nil {
		return nil, err
	}
	if decision.Noop {
		return nil, nil
	}
	applyRunStatus(item, to, clock(s.Now))
	ev := runEvent(id, item, audit.RunStatusChanged, map[string]any{"from": from, "to": to})
	return &ev, nil
}

// BatchStatus moves every listed run to one status, or none of them.
func (s *RunService) BatchStatus(ctx context.Context, id auth.Identity, in BatchStatusInput) ([]models.Run, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	ids := uniqueIDs(in.RunIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation(ReasonInvalidInput, "run_ids must not be empty")
	}
	if !lifecycle.Valid(lifecycle.KindRun, in.Status) {
		return nil, apperr.Validation(lifecycle.ReasonUnknownStatus, "unknown run status %q", in.Status)
	}

	var out []models.Run
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		runs, err := s.lockAll(ctx, tx, id.ProjectID, ids)
		if err != nil {
			return err
		}
		open, err := s.Repo.CountOpenCaptureSessionsTx(ctx, tx, ids)
		if err != nil {
			return err
		}
		candidates := make([]lifecycle.Candidate, 0, len(runs))
		for _, run := range runs {
			candidates = append(candidates, lifecycle.Candidate{
				ID:      run.ID,
				Current: run.Status,
				Context: lifecycle.Context{OpenCaptureSessions: open[run.ID]},
			})
		}
		if violations := lifecycle.CheckBatch(lifecycle.KindRun, candidates, in.Status); len(violations) > 0 {
			return lifecycle.BatchErr(lifecycle.KindRun, in.Status, violations)
		}

		now := clock(s.Now)
		var events []audit.Event
		for i := range runs {
			run := &runs[i]
			if run.Status == in.Status {
				continue
			}
			from := run.Status
			applyRunStatus(run, in.Status, now)
			if err := s.Repo.UpdateRunTx(ctx, tx, run); err != nil {
				return err
			}
			events = append(events, runEvent(id, run, audit.RunStatusChanged, map[string]any{
				"from": from, "to": in.Status, "batch": true,
			}))
		}
		if err := s.Audit.RecordTx(ctx, tx, events...); err != nil {
			return err
		}
		out = runs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BulkTags edits tags on every listed run atomically. Archived runs reject the
// whole request.
func (s *RunService) BulkTags(ctx context.Context, id auth.Identity, in BulkTagsInput) ([]models.Run, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	ids := uniqueIDs(in.RunIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation(ReasonInvalidInput, "run_ids must not be empty")
	}
	switch in.Op {
	case TagsAdd, TagsRemove, TagsSet:
	default:
		return nil, apperr.Validation(ReasonInvalidInput, "op must be add, remove or set")
	}
	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 && in.Op != TagsSet {
		return nil, apperr.Validation(ReasonInvalidInput, "tags must not be empty")
	}

	var out []models.Run
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		runs, err := s.lockAll(ctx, tx, id.ProjectID, ids)
		if err != nil {
			return err
		}
		var archived []string
		for _, run := range runs {
			if run.Status == lifecycle.StatusArchived {
				archived = append(archived, run.ID)
			}
		}
		if len(archived) > 0 {
			return apperr.Conflict(ReasonRunArchived, "archived runs cannot be tagged").WithIDs(archived)
		}

		befores := make([][]string, len(runs))
		afters := make([][]string, len(runs))
		var overflow []string
		for i, run := range runs {
			befores[i] = decodeTags(run.Tags)
			after, err := applyTagOp(befores[i], in.Op, tags)
			if err != nil {
				overflow = append(overflow, run.ID)
				continue
			}
			afters[i] = after
		}
		if len(overflow) > 0 {
			return apperr.Validation(ReasonInvalidInput, "at most %d tags are allowed per run", maxTags).WithIDs(overflow)
		}

		var events []audit.Event
		for i := range runs {
			run := &runs[i]
			before, after := befores[i], afters[i]
			if slices.Equal(before, after) {
				continue
			}
			run.Tags = tagsJSON(after)
			if err := s.Repo.UpdateRunTx(ctx, tx, run); err != nil {
				return err
			}
			events = append(events, runEvent(id, run, audit.RunTagsUpdated, map[string]any{
				"op": in.Op, "tags": tags, "before": before, "after": after,
			}))
		}
		if err := s.Audit.RecordTx(ctx, tx, events...); err != nil {
			return err
		}
		out = runs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockAll locks the runs in id order and reports every id that is missing
// from the project.
func (s *RunService) lockAll(ctx context.Context, tx *gorm.DB, projectID string, ids []string) ([]models.Run, error) {
	runs, err := s.Repo.ListRunsForUpdateTx(ctx, tx, projectID, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[string]struct{}, len(runs))
	for _, run := range runs {
		found[run.ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.NotFound("run").WithIDs(missing)
	}
	return runs, nil
}

// applyTagOp fails when the result would break the tag limits; callers must
// not persist anything in that case.
func applyTagOp(current []string, op string, tags []string) ([]string, error) {
	var next []string
	switch op {
	case TagsSet:
		next = tags
	case TagsAdd:
		next = append(append([]string{}, current...), tags...)
	case TagsRemove:
		drop := map[string]struct{}{}
		for _, t := range tags {
			drop[t] = struct{}{}
		}
		for _, t := range current {
			if _, ok := drop[t]; !ok {
				next = append(next, t)
			}
		}
	}
	return normalizeTags(next)
}

// applyRunStatus keeps started_at, finished_at and duration_seconds in step
// with the status.
func applyRunStatus(run *models.Run, to lifecycle.Status, now time.Time) {
	run.Status = to
	switch to {
	case lifecycle.StatusRunning:
		if run.StartedAt == nil {
			run.StartedAt = &now
		}
	case lifecycle.StatusSucceeded, lifecycle.StatusFailed:
		if run.FinishedAt == nil {
			run.FinishedAt = &now
		}
		if run.StartedAt != nil {
			d := int64(run.FinishedAt.Sub(*run.StartedAt) / time.Second)
			run.DurationSeconds = &d
		}
	}
}

func runEvent(id auth.Identity, run *models.Run, typ string, payload map[string]any) audit.Event {
	return audit.Event{
		ProjectID:  run.ProjectID,
		EntityKind: string(lifecycle.KindRun),
		EntityID:   run.ID,
		Type:       typ,
		Actor:      actorOf(id),
		Payload:    payload,
	}
}
