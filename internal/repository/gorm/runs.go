package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

func (s *Store) CreateRunTx(ctx context.Context, tx *gorm.DB, item *models.Run) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).Create(item).Error
}

func (s *Store) GetRun(ctx context.Context, projectID, id string) (*models.Run, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.Run](s.conn(ctx).Where("project_id = ? AND id = ?", projectID, id))
}

func (s *Store) GetRunForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.Run, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.Run](forUpdate(txOr(ctx, tx, s.db)).Where("project_id = ? AND id = ?", projectID, id))
}

// ListRunsForUpdateTx locks rows in id order so concurrent batches cannot deadlock.
func (s *Store) ListRunsForUpdateTx(ctx context.Context, tx *gorm.DB, projectID string, ids []string) ([]models.Run, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	ids = cleanStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var items []models.Run
	if err := forUpdate(txOr(ctx, tx, s.db)).
		Where("project_id = ? AND id IN ?", projectID, ids).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateRunTx(ctx context.Context, tx *gorm.DB, item *models.Run) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).Save(item).Error
}

func (s *Store) ListRuns(ctx context.Context, params repository.ListRunsParams) ([]models.Run, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.runFilter(ctx, params), params.OrderBy, params.Asc, "created_at")
	var items []models.Run
	if err := query.Limit(normalizeLimit(params.Limit, 50)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountRuns(ctx context.Context, params repository.ListRunsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.runFilter(ctx, params).Count(&total).Error
	return total, err
}

func (s *Store) runFilter(ctx context.Context, params repository.ListRunsParams) *gorm.DB {
	query := s.conn(ctx).Model(&models.Run{}).Where("project_id = ?", params.ProjectID)
	if params.ExperimentID != nil && strings.TrimSpace(*params.ExperimentID) != "" {
		query = query.Where("experiment_id = ?", strings.TrimSpace(*params.ExperimentID))
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Tag != nil && strings.TrimSpace(*params.Tag) != "" {
		query = query.Where("tags @> ?::jsonb", jsonArray(strings.TrimSpace(*params.Tag)))
	}
	return query
}

func (s *Store) CountOpenCaptureSessionsTx(ctx context.Context, tx *gorm.DB, runIDs []string) (map[string]int, error) {
	out := map[string]int{}
	if s == nil || s.db == nil {
		return out, nil
	}
	runIDs = cleanStrings(runIDs)
	if len(runIDs) == 0 {
		return out, nil
	}
	type row struct {
		RunID string
		Open  int
	}
	var rows []row
	if err := txOr(ctx, tx, s.db).
		Model(&models.CaptureSession{}).
		Select("run_id, COUNT(*) AS open").
		Where("run_id IN ?", runIDs).
		Where("status IN ?", []lifecycle.Status{lifecycle.StatusDraft, lifecycle.StatusRunning, lifecycle.StatusBackfilling}).
		Group("run_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.RunID] = r.Open
	}
	return out, nil
}
