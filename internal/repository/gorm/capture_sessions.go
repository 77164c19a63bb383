package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

var recordingStatuses = []lifecycle.Status{lifecycle.StatusRunning, lifecycle.StatusBackfilling}

func (s *Store) CreateCaptureSessionTx(ctx context.Context, tx *gorm.DB, item *models.CaptureSession) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).Create(item).Error
}

func (s *Store) GetCaptureSession(ctx context.Context, projectID, id string) (*models.CaptureSession, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.CaptureSession](s.conn(ctx).Where("project_id = ? AND id = ?", projectID, id))
}

func (s *Store) GetCaptureSessionForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.CaptureSession, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.CaptureSession](forUpdate(txOr(ctx, tx, s.db)).Where("project_id = ? AND id = ?", projectID, id))
}

func (s *Store) UpdateCaptureSessionTx(ctx context.Context, tx *gorm.DB, item *models.CaptureSession) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).Save(item).Error
}

func (s *Store) DeleteCaptureSessionTx(ctx context.Context, tx *gorm.DB, id string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).Where("id = ?", id).Delete(&models.CaptureSession{}).Error
}

func (s *Store) ListCaptureSessions(ctx context.Context, params repository.ListCaptureSessionsParams) ([]models.CaptureSession, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	asc := params.Asc
	if asc == nil && strings.TrimSpace(params.OrderBy) == "" {
		t := true
		asc = &t
	}
	query := applyOrder(s.captureFilter(ctx, params), params.OrderBy, asc, "ordinal_number")
	var items []models.CaptureSession
	if err := query.Limit(normalizeLimit(params.Limit, 50)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountCaptureSessions(ctx context.Context, params repository.ListCaptureSessionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.captureFilter(ctx, params).Count(&total).Error
	return total, err
}

func (s *Store) captureFilter(ctx context.Context, params repository.ListCaptureSessionsParams) *gorm.DB {
	query := s.conn(ctx).Model(&models.CaptureSession{}).Where("project_id = ?", params.ProjectID)
	if params.RunID != nil && strings.TrimSpace(*params.RunID) != "" {
		query = query.Where("run_id = ?", strings.TrimSpace(*params.RunID))
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if !params.IncludeArchived {
		query = query.Where("archived = ?", false)
	}
	return query
}

// NextCaptureOrdinalTx must run while the parent run row is locked.
func (s *Store) NextCaptureOrdinalTx(ctx context.Context, tx *gorm.DB, runID string) (int, error) {
	if s == nil || s.db == nil {
		return 1, nil
	}
	var maxOrdinal int
	if err := txOr(ctx, tx, s.db).
		Model(&models.CaptureSession{}).
		Select("COALESCE(MAX(ordinal_number), 0)").
		Where("run_id = ?", runID).
		Scan(&maxOrdinal).Error; err != nil {
		return 0, err
	}
	return maxOrdinal + 1, nil
}

func (s *Store) FindActiveCaptureSessionTx(ctx context.Context, tx *gorm.DB, projectID string, runID *string) (*models.CaptureSession, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := txOr(ctx, tx, s.db).
		Where("project_id = ?", projectID).
		Where("archived = ?", false).
		Where("status IN ?", recordingStatuses)
	if runID != nil {
		query = query.Where("run_id = ?", *runID)
	}
	return firstOrNil[models.CaptureSession](query.Order("started_at DESC NULLS LAST, created_at DESC"))
}

func (s *Store) ListStaleCaptureSessions(ctx context.Context, startedBefore time.Time, limit int) ([]models.CaptureSession, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.CaptureSession
	if err := s.conn(ctx).
		Where("status IN ?", recordingStatuses).
		Where("COALESCE(started_at, created_at) < ?", startedBefore).
		Order("created_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountActiveSessionsUsingSensorTx(ctx context.Context, tx *gorm.DB, sensorID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := txOr(ctx, tx, s.db).
		Model(&models.CaptureSession{}).
		Where("status IN ?", recordingStatuses).
		Where("archived = ?", false).
		Where("EXISTS (SELECT 1 FROM telemetry_records tr WHERE tr.capture_session_id = capture_sessions.id AND tr.sensor_id = ?)", sensorID).
		Count(&total).Error
	return total, err
}
