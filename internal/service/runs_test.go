package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"experimentservice/internal/apperr"
	"experimentservice/internal/audit"
	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
)

func seedExperiment(repo *memRepo, id string, status lifecycle.Status) {
	repo.experiments[id] = models.Experiment{ID: id, ProjectID: projectA, Name: "exp-" + id, Status: status}
}

func TestCreateExperimentNameTakenIgnoresCase(t *testing.T) {
	repo := newMemRepo()
	svc := &ExperimentService{Repo: repo, Audit: repo.recorder()}
	ctx := context.Background()
	if _, err := svc.Create(ctx, editor, CreateExperimentInput{Name: "Tensile"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.Create(ctx, editor, CreateExperimentInput{Name: " tensile "})
	requireReason(t, err, apperr.KindConflict, ReasonNameTaken)

	_, err = svc.Create(ctx, editor, CreateExperimentInput{Name: "x", Metadata: json.RawMessage(`[1,2]`)})
	requireReason(t, err, apperr.KindValidation, ReasonInvalidInput)
}

func TestCreateRunUnderArchivedExperiment(t *testing.T) {
	repo := newMemRepo()
	expID := "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	seedExperiment(repo, expID, lifecycle.StatusArchived)
	svc := &RunService{Repo: repo, Audit: repo.recorder()}
	_, err := svc.Create(context.Background(), editor, CreateRunInput{ExperimentID: expID})
	requireReason(t, err, apperr.KindConflict, ReasonExperimentArchived)
}

func TestCreateRunRunningSetsStartedAt(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	repo := newMemRepo()
	expID := "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	seedExperiment(repo, expID, lifecycle.StatusRunning)
	svc := &RunService{Repo: repo, Audit: repo.recorder(), Now: fixedClock(now)}
	run, err := svc.Create(context.Background(), editor, CreateRunInput{
		ExperimentID: expID,
		Status:       lifecycle.StatusRunning,
		Tags:         []string{"b", "a", "b"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if run.StartedAt == nil || !run.StartedAt.Equal(now) {
		t.Fatalf("started_at=%v", run.StartedAt)
	}
	if got := decodeTags(run.Tags); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("tags=%v", got)
	}
}

func TestRunCannotFinishWithOpenCapture(t *testing.T) {
	repo := newMemRepo()
	seedRun(repo, lifecycle.StatusRunning)
	repo.captures["c1"] = models.CaptureSession{ID: "c1", ProjectID: projectA, RunID: runID, OrdinalNumber: 1, Status: lifecycle.StatusRunning}
	svc := &RunService{Repo: repo, Audit: repo.recorder()}
	done := lifecycle.StatusSucceeded
	_, err := svc.Update(context.Background(), editor, runID, UpdateRunInput{Status: &done})
	requireReason(t, err, apperr.KindConflict, lifecycle.ReasonOpenCaptureSessions)
}

func TestBatchStatusIsAllOrNothing(t *testing.T) {
	repo := newMemRepo()
	repo.runs["r1"] = models.Run{ID: "r1", ProjectID: projectA, Status: lifecycle.StatusRunning}
	repo.runs["r2"] = models.Run{ID: "r2", ProjectID: projectA, Status: lifecycle.StatusDraft}
	repo.runs["r3"] = models.Run{ID: "r3", ProjectID: projectA, Status: lifecycle.StatusRunning}
	repo.captures["c1"] = models.CaptureSession{ID: "c1", ProjectID: projectA, RunID: "r3", Status: lifecycle.StatusRunning}
	svc := &RunService{Repo: repo, Audit: repo.recorder()}
	ctx := context.Background()

	_, err := svc.BatchStatus(ctx, editor, BatchStatusInput{RunIDs: []string{"r1", "r2", "r3"}, Status: lifecycle.StatusSucceeded})
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindConflict || len(e.IDs) != 2 {
		t.Fatalf("err=%v", err)
	}
	if repo.runs["r1"].Status != lifecycle.StatusRunning {
		t.Fatalf("r1 changed despite violations")
	}

	_, err = svc.BatchStatus(ctx, editor, BatchStatusInput{RunIDs: []string{"r1", "missing"}, Status: lifecycle.StatusSucceeded})
	e, ok = apperr.As(err)
	if !ok || e.Kind != apperr.KindNotFound || len(e.IDs) != 1 || e.IDs[0] != "missing" {
		t.Fatalf("err=%v", err)
	}

	runs, err := svc.BatchStatus(ctx, editor, BatchStatusInput{RunIDs: []string{"r1", "r1"}, Status: lifecycle.StatusSucceeded})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(runs) != 1 || runs[0].FinishedAt == nil {
		t.Fatalf("runs=%+v", runs)
	}
	if got := repo.eventTypes(); len(got) != 1 || got[0] != audit.RunStatusChanged {
		t.Fatalf("events=%v", got)
	}
}

func TestBulkTagsRejectsArchived(t *testing.T) {
	repo := newMemRepo()
	repo.runs["r1"] = models.Run{ID: "r1", ProjectID: projectA, Status: lifecycle.StatusRunning, Tags: tagsJSON([]string{"a"})}
	repo.runs["r2"] = models.Run{ID: "r2", ProjectID: projectA, Status: lifecycle.StatusArchived, Tags: tagsJSON(nil)}
	svc := &RunService{Repo: repo, Audit: repo.recorder()}
	ctx := context.Background()

	_, err := svc.BulkTags(ctx, editor, BulkTagsInput{RunIDs: []string{"r1", "r2"}, Op: TagsAdd, Tags: []string{"x"}})
	e, ok := apperr.As(err)
	if !ok || e.Reason != ReasonRunArchived || len(e.IDs) != 1 || e.IDs[0] != "r2" {
		t.Fatalf("err=%v", err)
	}

	if _, err := svc.BulkTags(ctx, editor, BulkTagsInput{RunIDs: []string{"r1"}, Op: TagsAdd, Tags: []string{"c", "b"}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := decodeTags(repo.runs["r1"].Tags); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("tags=%v", got)
	}
	if _, err := svc.BulkTags(ctx, editor, BulkTagsInput{RunIDs: []string{"r1"}, Op: TagsRemove, Tags: []string{"a"}}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := decodeTags(repo.runs["r1"].Tags); len(got) != 2 || got[0] != "b" {
		t.Fatalf("tags=%v", got)
	}

	_, err = svc.BulkTags(ctx, editor, BulkTagsInput{RunIDs: []string{"r1"}, Op: "merge", Tags: []string{"a"}})
	requireReason(t, err, apperr.KindValidation, ReasonInvalidInput)
}

func TestBulkTagsOverflowLeavesEveryRunUntouched(t *testing.T) {
	repo := newMemRepo()
	full := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		full = append(full, fmt.Sprintf("t%02d", i))
	}
	repo.runs["r1"] = models.Run{ID: "r1", ProjectID: projectA, Status: lifecycle.StatusRunning, Tags: tagsJSON(full)}
	repo.runs["r2"] = models.Run{ID: "r2", ProjectID: projectA, Status: lifecycle.StatusRunning, Tags: tagsJSON([]string{"a"})}
	svc := &RunService{Repo: repo, Audit: repo.recorder()}

	_, err := svc.BulkTags(context.Background(), editor, BulkTagsInput{
		RunIDs: []string{"r1", "r2"},
		Op:     TagsAdd,
		Tags:   []string{"x1", "x2", "x3", "x4", "x5"},
	})
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindValidation || e.Reason != ReasonInvalidInput {
		t.Fatalf("err=%v", err)
	}
	if len(e.IDs) != 1 || e.IDs[0] != "r1" {
		t.Fatalf("ids=%v want=[r1]", e.IDs)
	}
	if got := decodeTags(repo.runs["r1"].Tags); len(got) != 60 {
		t.Fatalf("r1 tags=%d want=60", len(got))
	}
	if got := decodeTags(repo.runs["r2"].Tags); len(got) != 1 || got[0] != "a" {
		t.Fatalf("r2 tags=%v", got)
	}
	if got := repo.eventTypes(); len(got) != 0 {
		t.Fatalf("events=%v", got)
	}
}
