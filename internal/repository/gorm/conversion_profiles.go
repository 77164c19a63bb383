package gormrepository

import (
	"context"

	"gorm.io/gorm"

	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

func (s *Store) CreateConversionProfileTx(ctx context.Context, tx *gorm.DB, item *models.ConversionProfile) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).Create(item).Error
}

func (s *Store) GetConversionProfileForUpdateTx(ctx context.Context, tx *gorm.DB, sensorID, id string) (*models.ConversionProfile, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.ConversionProfile](forUpdate(txOr(ctx, tx, s.db)).Where("sensor_id = ? AND id = ?", sensorID, id))
}

func (s *Store) GetActiveConversionProfileTx(ctx context.Context, tx *gorm.DB, sensorID string) (*models.ConversionProfile, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.ConversionProfile](txOr(ctx, tx, s.db).
		Where("sensor_id = ? AND status = ?", sensorID, lifecycle.StatusActive))
}

func (s *Store) UpdateConversionProfileTx(ctx context.Context, tx *gorm.DB, item *models.ConversionProfile) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).Save(item).Error
}

func (s *Store) ListConversionProfiles(ctx context.Context, params repository.ListConversionProfilesParams) ([]models.ConversionProfile, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ConversionProfile
	if err := s.profileFilter(ctx, params).
		Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountConversionProfiles(ctx context.Context, params repository.ListConversionProfilesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.profileFilter(ctx, params).Count(&total).Error
	return total, err
}

func (s *Store) profileFilter(ctx context.Context, params repository.ListConversionProfilesParams) *gorm.DB {
	query := s.conn(ctx).Model(&models.ConversionProfile{}).Where("sensor_id = ?", params.SensorID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	return query
}
