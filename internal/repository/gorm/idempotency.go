package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"experimentservice/internal/models"
)

func (s *Store) DeleteExpiredIdempotencyKeyTx(ctx context.Context, tx *gorm.DB, key string, now time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).Where("key = ? AND expires_at < ?", key, now).Delete(&models.IdempotencyKey{}).Error
}

func (s *Store) ReserveIdempotencyKeyTx(ctx context.Context, tx *gorm.DB, item *models.IdempotencyKey) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := txOr(ctx, tx, s.db).Clauses(clause.OnConflict{DoNothing: true}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetIdempotencyKeyTx(ctx context.Context, tx *gorm.DB, key string) (*models.IdempotencyKey, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.IdempotencyKey](txOr(ctx, tx, s.db).Where("key = ?", key))
}

func (s *Store) SaveIdempotencyResponseTx(ctx context.Context, tx *gorm.DB, key string, status int, body []byte) error {
	if s == nil || s.db == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).
		Model(&models.IdempotencyKey{}).
		Where("key = ?", key).
		Updates(map[string]any{"response_status": status, "response_body": body}).Error
}

func (s *Store) DeleteExpiredIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.IdempotencyKey{})
	return res.RowsAffected, res.Error
}
