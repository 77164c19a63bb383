package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

// Postgres caps a statement at 65535 bind parameters; a telemetry row binds 12.
const maxTelemetryRowsPerInsert = 65535 / 12

func (s *Store) GetRunInProjectsTx(ctx context.Context, tx *gorm.DB, projectIDs []string, id string) (*models.Run, error) {
	if s == nil || s.db == nil || len(projectIDs) == 0 {
		return nil, nil
	}
	return firstOrNil[models.Run](txOr(ctx, tx, s.db).Where("id = ? AND project_id IN ?", id, projectIDs))
}

func (s *Store) GetCaptureSessionInProjectsTx(ctx context.Context, tx *gorm.DB, projectIDs []string, id string) (*models.CaptureSession, error) {
	if s == nil || s.db == nil || len(projectIDs) == 0 {
		return nil, nil
	}
	return firstOrNil[models.CaptureSession](txOr(ctx, tx, s.db).Where("id = ? AND project_id IN ?", id, projectIDs))
}

func (s *Store) InsertTelemetryRecordsTx(ctx context.Context, tx *gorm.DB, items []models.TelemetryRecord, chunkSize int) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	if chunkSize <= 0 || chunkSize > maxTelemetryRowsPerInsert {
		chunkSize = maxTelemetryRowsPerInsert
	}
	return createInBatches(txOr(ctx, tx, s.db).Omit("Signal"), items, chunkSize)
}

const attachLateRecordsSQL = `
UPDATE telemetry_records
SET capture_session_id = ?,
    meta = jsonb_set(meta, '{__system,capture_session_attached}', 'true'::jsonb, true)
WHERE capture_session_id IS NULL
  AND (meta -> '__system' ->> 'capture_session_id') = ?`

func (s *Store) AttachLateRecordsTx(ctx context.Context, tx *gorm.DB, captureSessionID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := txOr(ctx, tx, s.db).Exec(strings.TrimSpace(attachLateRecordsSQL), captureSessionID, captureSessionID)
	return res.RowsAffected, res.Error
}

func (s *Store) QueryCaptureTelemetry(ctx context.Context, params repository.CaptureTelemetryQuery) ([]models.TelemetryRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.conn(ctx).Model(&models.TelemetryRecord{})
	if params.IncludeLate {
		query = query.Where("(capture_session_id = ? OR (meta -> '__system' ->> 'capture_session_id') = ?)",
			params.CaptureSessionID, params.CaptureSessionID)
	} else {
		query = query.Where("capture_session_id = ?", params.CaptureSessionID).
			Where("ingest_mode = ?", "live")
	}
	if params.Asc {
		query = query.Where("id > ?", params.SinceID).Order("id asc")
	} else {
		if params.SinceID > 0 {
			query = query.Where("id < ?", params.SinceID)
		}
		query = query.Order("id desc")
	}
	if ids := cleanStrings(params.SensorIDs); len(ids) > 0 {
		query = query.Where("sensor_id IN ?", ids)
	}
	var items []models.TelemetryRecord
	if err := query.Limit(params.Limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) QuerySensorTelemetry(ctx context.Context, params repository.SensorTelemetryQuery) ([]models.TelemetryRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.conn(ctx).Model(&models.TelemetryRecord{}).Where("sensor_id = ?", params.SensorID)
	if params.Signal != nil && strings.TrimSpace(*params.Signal) != "" {
		query = query.Where("signal = ?", strings.TrimSpace(*params.Signal))
	}
	if params.From != nil {
		query = query.Where("timestamp >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("timestamp < ?", *params.To)
	}
	if params.Asc {
		query = query.Order("timestamp asc, id asc")
	} else {
		query = query.Order("timestamp desc, id desc")
	}
	var items []models.TelemetryRecord
	if err := query.Limit(params.Limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListTelemetryAfter(ctx context.Context, params repository.TelemetryStreamQuery) ([]models.TelemetryRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.conn(ctx).Model(&models.TelemetryRecord{}).Where("id > ?", params.AfterID)
	if ids := cleanStrings(params.SensorIDs); len(ids) > 0 {
		query = query.Where("sensor_id IN ?", ids)
	}
	if params.CaptureSessionID != nil && *params.CaptureSessionID != "" {
		query = query.Where("capture_session_id = ?", *params.CaptureSessionID)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	var items []models.TelemetryRecord
	if err := query.Order("id asc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Re-aggregating whole buckets keeps the upsert idempotent and lets late rows
// land in the bucket of their own timestamp.
const refreshRollupsSQL = `
INSERT INTO telemetry_rollups_1m (bucket, sensor_id, signal, project_id, samples,
    min_raw, max_raw, avg_raw, min_phys, max_phys, avg_phys, updated_at)
SELECT date_trunc('minute', timestamp) AS bucket,
       sensor_id,
       COALESCE(signal, '') AS signal,
       (array_agg(project_id ORDER BY id))[1],
       COUNT(*),
       MIN(raw_value), MAX(raw_value), AVG(raw_value),
       MIN(physical_value), MAX(physical_value), AVG(physical_value),
       now()
FROM telemetry_records
WHERE timestamp >= date_trunc('minute', ?::timestamptz)
GROUP BY 1, 2, 3
ON CONFLICT (bucket, sensor_id, signal) DO UPDATE SET
    samples = EXCLUDED.samples,
    min_raw = EXCLUDED.min_raw,
    max_raw = EXCLUDED.max_raw,
    avg_raw = EXCLUDED.avg_raw,
    min_phys = EXCLUDED.min_phys,
    max_phys = EXCLUDED.max_phys,
    avg_phys = EXCLUDED.avg_phys,
    updated_at = EXCLUDED.updated_at`

func (s *Store) RefreshRollups(ctx context.Context, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Exec(strings.TrimSpace(refreshRollupsSQL), since)
	return res.RowsAffected, res.Error
}

func (s *Store) ListRollups(ctx context.Context, params repository.RollupQuery) ([]models.TelemetryRollup, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.conn(ctx).Model(&models.TelemetryRollup{}).
		Where("sensor_id = ?", params.SensorID).
		Where("bucket >= ? AND bucket < ?", params.From, params.To)
	if params.Signal != nil {
		query = query.Where("signal = ?", strings.TrimSpace(*params.Signal))
	}
	var items []models.TelemetryRollup
	if err := query.Order("bucket asc, signal asc").Limit(params.Limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListArchiveCandidates(ctx context.Context, before time.Time, limit int) ([]repository.ArchiveBucket, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []repository.ArchiveBucket
	if err := s.db.WithContext(ctx).
		Model(&models.TelemetryRecord{}).
		Select("sensor_id, date_trunc('day', timestamp AT TIME ZONE 'UTC') AT TIME ZONE 'UTC' AS day, COUNT(*) AS records, MAX(id) AS max_id").
		Where("timestamp < ?", before).
		Group("1, 2").
		Order("2 asc, 1 asc").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) ListTelemetryForArchive(ctx context.Context, bucket repository.ArchiveBucket) ([]models.TelemetryRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.TelemetryRecord
	query := s.db.WithContext(ctx).
		Where("sensor_id = ?", bucket.SensorID).
		Where("timestamp >= ? AND timestamp < ?", bucket.Day, bucket.Day.Add(24*time.Hour))
	if bucket.MaxID > 0 {
		query = query.Where("id <= ?", bucket.MaxID)
	}
	if err := query.Order("timestamp asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SaveArchiveTx(ctx context.Context, tx *gorm.DB, item *models.TelemetryArchive, bucket repository.ArchiveBucket) (int64, error) {
	if s == nil || s.db == nil || item == nil {
		return 0, nil
	}
	db := txOr(ctx, tx, s.db)
	if err := db.Create(item).Error; err != nil {
		return 0, err
	}
	res := db.
		Where("sensor_id = ?", bucket.SensorID).
		Where("timestamp >= ? AND timestamp < ?", bucket.Day, bucket.Day.Add(24*time.Hour)).
		Where("id <= ?", bucket.MaxID).
		Delete(&models.TelemetryRecord{})
	return res.RowsAffected, res.Error
}

func (s *Store) ListTelemetryArchives(ctx context.Context, sensorID string, limit, offset int) ([]models.TelemetryArchive, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.TelemetryArchive
	if err := s.conn(ctx).
		Omit("Blob").
		Where("sensor_id = ?", sensorID).
		Order("day desc, created_at desc").
		Limit(normalizeLimit(limit, 50)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
