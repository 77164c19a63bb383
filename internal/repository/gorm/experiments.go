package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

func (s *Store) CreateExperimentTx(ctx context.Context, tx *gorm.DB, item *models.Experiment) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).Create(item).Error
}

func (s *Store) GetExperiment(ctx context.Context, projectID, id string) (*models.Experiment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.Experiment](s.conn(ctx).
		Where("project_id = ? AND id = ?", projectID, id))
}

func (s *Store) GetExperimentForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.Experiment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.Experiment](forUpdate(txOr(ctx, tx, s.db)).
		Where("project_id = ? AND id = ?", projectID, id))
}

func (s *Store) UpdateExperimentTx(ctx context.Context, tx *gorm.DB, item *models.Experiment) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).Save(item).Error
}

func (s *Store) ListExperiments(ctx context.Context, params repository.ListExperimentsParams) ([]models.Experiment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.experimentFilter(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Experiment
	if err := query.Limit(normalizeLimit(params.Limit, 50)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountExperiments(ctx context.Context, params repository.ListExperimentsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.experimentFilter(ctx, params).Count(&total).Error
	return total, err
}

func (s *Store) experimentFilter(ctx context.Context, params repository.ListExperimentsParams) *gorm.DB {
	query := s.conn(ctx).Model(&models.Experiment{}).Where("project_id = ?", params.ProjectID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Tag != nil && strings.TrimSpace(*params.Tag) != "" {
		query = query.Where("tags @> ?::jsonb", jsonArray(strings.TrimSpace(*params.Tag)))
	}
	if params.Search != nil && strings.TrimSpace(*params.Search) != "" {
		query = query.Where("name ILIKE ?", "%"+escapeLike(strings.TrimSpace(*params.Search))+"%")
	}
	return query
}

func escapeLike(v string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(v)
}
