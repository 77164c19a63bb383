package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

func (s *Store) CreateWebhookSubscription(ctx context.Context, item *models.WebhookSubscription) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.conn(ctx).Create(item).Error
}

func (s *Store) GetWebhookSubscription(ctx context.Context, projectID, id string) (*models.WebhookSubscription, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.WebhookSubscription](s.conn(ctx).Where("project_id = ? AND id = ? AND is_active = ?", projectID, id, true))
}

func (s *Store) ListWebhookSubscriptions(ctx context.Context, params repository.ListWebhookSubscriptionsParams) ([]models.WebhookSubscription, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.WebhookSubscription
	if err := s.conn(ctx).
		Where("project_id = ? AND is_active = ?", params.ProjectID, true).
		Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountWebhookSubscriptions(ctx context.Context, params repository.ListWebhookSubscriptionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.conn(ctx).Model(&models.WebhookSubscription{}).
		Where("project_id = ? AND is_active = ?", params.ProjectID, true).
		Count(&total).Error
	return total, err
}

// DeleteWebhookSubscription deactivates the subscription. Its deliveries stay
// queryable; those still waiting to be sent are failed.
func (s *Store) DeleteWebhookSubscription(ctx context.Context, projectID, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	now := time.Now().UTC()
	deleted := false
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).
			Model(&models.WebhookSubscription{}).
			Where("project_id = ? AND id = ? AND is_active = ?", projectID, id, true).
			Updates(map[string]any{"is_active": false, "updated_at": now})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		deleted = true
		return tx.WithContext(ctx).
			Model(&models.WebhookDelivery{}).
			Where("subscription_id = ? AND status = ?", id, models.DeliveryPending).
			Updates(map[string]any{
				"status":       models.DeliveryFailed,
				"locked_until": nil,
				"last_error":   "subscription deleted",
				"updated_at":   now,
			}).Error
	})
	return deleted, err
}

func (s *Store) ListMatchingSubscriptionsTx(ctx context.Context, tx *gorm.DB, projectID, eventType string) ([]models.WebhookSubscription, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.WebhookSubscription
	if err := txOr(ctx, tx, s.db).
		Where("project_id = ? AND is_active = ?", projectID, true).
		Where("event_types @> ?::jsonb", jsonArray(eventType)).
		Order("created_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) InsertWebhookDeliveriesTx(ctx context.Context, tx *gorm.DB, items []models.WebhookDelivery) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return createInBatches(txOr(ctx, tx, s.db), items, 200)
}

const claimDueDeliveriesSQL = `
UPDATE webhook_deliveries
SET status = ?, locked_until = ?, updated_at = ?
WHERE id IN (
    SELECT id FROM webhook_deliveries
    WHERE status = ? AND next_attempt_at <= ?
      AND subscription_id IN (SELECT id FROM webhook_subscriptions WHERE is_active)
    ORDER BY next_attempt_at ASC
    LIMIT ?
    FOR UPDATE SKIP LOCKED
)
RETURNING *`

func (s *Store) ClaimDueDeliveries(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	var items []models.WebhookDelivery
	if err := s.db.WithContext(ctx).
		Raw(strings.TrimSpace(claimDueDeliveriesSQL),
			models.DeliveryInProgress, now.Add(lease), now,
			models.DeliveryPending, now, limit).
		Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CompleteDeliveryAttempt(ctx context.Context, id string, outcome repository.DeliveryOutcome) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("id = ? AND status = ?", id, models.DeliveryInProgress).
		Updates(map[string]any{
			"status":           outcome.Status,
			"attempt_count":    outcome.AttemptCount,
			"next_attempt_at":  outcome.NextAttemptAt,
			"locked_until":     nil,
			"last_error":       outcome.LastError,
			"last_status_code": outcome.LastStatusCode,
			"delivered_at":     outcome.DeliveredAt,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// ReclaimExpiredDeliveries hands deliveries whose lease ran out back to the
// queue. The lost attempt is counted, so a delivery that keeps taking its
// worker down ends up failed after maxAttempts.
func (s *Store) ReclaimExpiredDeliveries(ctx context.Context, now time.Time, maxAttempts int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("status = ? AND locked_until < ?", models.DeliveryInProgress, now).
		Updates(map[string]any{
			"status": gorm.Expr("CASE WHEN attempt_count + 1 >= ? THEN ? ELSE ? END",
				maxAttempts, models.DeliveryFailed, models.DeliveryPending),
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_error":      "lease expired before the attempt finished",
			"locked_until":    nil,
			"next_attempt_at": now,
			"updated_at":      now,
		})
	return res.RowsAffected, res.Error
}

func (s *Store) PurgeSucceededDeliveries(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("status = ? AND delivered_at < ?", models.DeliverySucceeded, before).
		Delete(&models.WebhookDelivery{})
	return res.RowsAffected, res.Error
}

func (s *Store) GetWebhookDelivery(ctx context.Context, projectID, id string) (*models.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.WebhookDelivery](s.conn(ctx).Where("project_id = ? AND id = ?", projectID, id))
}

func (s *Store) ListWebhookDeliveries(ctx context.Context, params repository.ListWebhookDeliveriesParams) ([]models.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.WebhookDelivery
	if err := s.deliveryFilter(ctx, params).
		Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountWebhookDeliveries(ctx context.Context, params repository.ListWebhookDeliveriesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.deliveryFilter(ctx, params).Count(&total).Error
	return total, err
}

func (s *Store) deliveryFilter(ctx context.Context, params repository.ListWebhookDeliveriesParams) *gorm.DB {
	query := s.conn(ctx).Model(&models.WebhookDelivery{}).Where("project_id = ?", params.ProjectID)
	if params.SubscriptionID != nil && strings.TrimSpace(*params.SubscriptionID) != "" {
		query = query.Where("subscription_id = ?", strings.TrimSpace(*params.SubscriptionID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.EventID != nil && strings.TrimSpace(*params.EventID) != "" {
		query = query.Where("event_id = ?", strings.TrimSpace(*params.EventID))
	}
	return query
}

func (s *Store) RequeueFailedDelivery(ctx context.Context, projectID, id string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.conn(ctx).
		Model(&models.WebhookDelivery{}).
		Where("project_id = ? AND id = ? AND status = ?", projectID, id, models.DeliveryFailed).
		Where("subscription_id IN (SELECT id FROM webhook_subscriptions WHERE is_active)").
		Updates(map[string]any{
			"status":          models.DeliveryPending,
			"attempt_count":   0,
			"next_attempt_at": now,
			"locked_until":    nil,
			"last_error":      nil,
			"updated_at":      now,
		})
	return res.RowsAffected > 0, res.Error
}
