package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

const sensorVisibleIn = "EXISTS (SELECT 1 FROM sensor_projects sp WHERE sp.sensor_id = sensors.id AND sp.project_id = ?)"

func (s *Store) CreateSensorTx(ctx context.Context, tx *gorm.DB, item *models.Sensor, projectIDs []string) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	db := txOr(ctx, tx, s.db)
	if err := db.Create(item).Error; err != nil {
		return err
	}
	links := make([]models.SensorProject, 0, len(projectIDs)+1)
	for _, pid := range cleanStrings(append([]string{item.ProjectID}, projectIDs...)) {
		links = append(links, models.SensorProject{SensorID: item.ID, ProjectID: pid})
	}
	return createInBatches(db.Clauses(clause.OnConflict{DoNothing: true}), links, 200)
}

func (s *Store) GetSensor(ctx context.Context, projectID, id string) (*models.Sensor, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.Sensor](s.conn(ctx).Where("id = ?", id).Where(sensorVisibleIn, projectID))
}

func (s *Store) GetSensorForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.Sensor, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.Sensor](forUpdate(txOr(ctx, tx, s.db)).Where("id = ?", id).Where(sensorVisibleIn, projectID))
}

func (s *Store) GetSensorByTokenHashTx(ctx context.Context, tx *gorm.DB, tokenHash string) (*models.Sensor, error) {
	if s == nil || s.db == nil || tokenHash == "" {
		return nil, nil
	}
	return firstOrNil[models.Sensor](txOr(ctx, tx, s.db).Where("token_hash = ?", tokenHash))
}

func (s *Store) UpdateSensorTx(ctx context.Context, tx *gorm.DB, item *models.Sensor) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).Save(item).Error
}

func (s *Store) ListSensors(ctx context.Context, params repository.ListSensorsParams) ([]models.Sensor, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.sensorFilter(ctx, params), params.OrderBy, params.Asc, "created_at")
	var items []models.Sensor
	if err := query.Limit(normalizeLimit(params.Limit, 50)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSensors(ctx context.Context, params repository.ListSensorsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.sensorFilter(ctx, params).Count(&total).Error
	return total, err
}

func (s *Store) sensorFilter(ctx context.Context, params repository.ListSensorsParams) *gorm.DB {
	query := s.conn(ctx).Model(&models.Sensor{}).Where(sensorVisibleIn, params.ProjectID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	return query
}

func (s *Store) ListSensorProjectIDs(ctx context.Context, sensorID string) ([]string, error) {
	return s.ListSensorProjectIDsTx(ctx, nil, sensorID)
}

func (s *Store) ListSensorProjectIDsTx(ctx context.Context, tx *gorm.DB, sensorID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []string
	db := s.conn(ctx)
	if tx != nil {
		db = tx.WithContext(ctx)
	}
	if err := db.Model(&models.SensorProject{}).
		Where("sensor_id = ?", sensorID).
		Order("created_at asc").
		Pluck("project_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) AddSensorProjectTx(ctx context.Context, tx *gorm.DB, sensorID, projectID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.SensorProject{SensorID: sensorID, ProjectID: projectID}).Error
}

func (s *Store) RemoveSensorProjectTx(ctx context.Context, tx *gorm.DB, sensorID, projectID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := txOr(ctx, tx, s.db).
		Where("sensor_id = ? AND project_id = ?", sensorID, projectID).
		Delete(&models.SensorProject{})
	return res.RowsAffected > 0, res.Error
}

// TouchSensorHeartbeatTx marks the sensor active and moves last_heartbeat forward, never back.
// Decommissioned sensors keep their status.
func (s *Store) TouchSensorHeartbeatTx(ctx context.Context, tx *gorm.DB, sensorID string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return txOr(ctx, tx, s.db).
		Model(&models.Sensor{}).
		Where("id = ? AND status <> ?", sensorID, lifecycle.StatusDecommissioned).
		Updates(map[string]any{
			"status":         lifecycle.StatusActive,
			"last_heartbeat": gorm.Expr("GREATEST(COALESCE(last_heartbeat, ?), ?)", at, at),
			"updated_at":     time.Now().UTC(),
		}).Error
}
