package gormrepository

import (
	"context"

	"gorm.io/gorm"

	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

func (s *Store) InsertAuditEventsTx(ctx context.Context, tx *gorm.DB, items []models.AuditEvent) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return createInBatches(txOr(ctx, tx, s.db), items, 200)
}

func (s *Store) ListAuditEvents(ctx context.Context, params repository.ListAuditEventsParams) ([]models.AuditEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.AuditEvent
	if err := s.auditFilter(ctx, params).
		Order("id asc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountAuditEvents(ctx context.Context, params repository.ListAuditEventsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.auditFilter(ctx, params).Count(&total).Error
	return total, err
}

func (s *Store) auditFilter(ctx context.Context, params repository.ListAuditEventsParams) *gorm.DB {
	return s.conn(ctx).Model(&models.AuditEvent{}).
		Where("project_id = ?", params.ProjectID).
		Where("entity_kind = ? AND entity_id = ?", params.EntityKind, params.EntityID)
}
