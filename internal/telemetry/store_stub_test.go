package telemetry

import (
	"cmp"
	"context"
	"slices"
	"time"

	"gorm.io/gorm"

	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

// memStore is an in-memory telemetry store. InTx runs fn directly and drops
// rows written by a failing fn.
type memStore struct {
	sensors   map[string]*models.Sensor
	projects  map[string][]string
	runs      map[string]*models.Run
	captures  map[string]*models.CaptureSession
	profiles  map[string]*models.ConversionProfile
	records   []models.TelemetryRecord
	heartbeat map[string]time.Time
	nextID    int64

	buckets  []repository.ArchiveBucket
	archives []models.TelemetryArchive
	rollupAt time.Time
}

func newMemStore() *memStore {
	return &memStore{
		sensors:   map[string]*models.Sensor{},
		projects:  map[string][]string{},
		runs:      map[string]*models.Run{},
		captures:  map[string]*models.CaptureSession{},
		profiles:  map[string]*models.ConversionProfile{},
		heartbeat: map[string]time.Time{},
	}
}

func (m *memStore) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	n := len(m.records)
	if err := fn(nil); err != nil {
		m.records = m.records[:n]
		return err
	}
	return nil
}

func (m *memStore) GetSensorByTokenHashTx(ctx context.Context, tx *gorm.DB, tokenHash string) (*models.Sensor, error) {
	for _, s := range m.sensors {
		if s.TokenHash == tokenHash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) TouchSensorHeartbeatTx(ctx context.Context, tx *gorm.DB, sensorID string, at time.Time) error {
	m.heartbeat[sensorID] = at
	return nil
}

func (m *memStore) GetActiveConversionProfileTx(ctx context.Context, tx *gorm.DB, sensorID string) (*models.ConversionProfile, error) {
	return m.profiles[sensorID], nil
}

func (m *memStore) FindActiveCaptureSessionTx(ctx context.Context, tx *gorm.DB, projectID string, runID *string) (*models.CaptureSession, error) {
	for _, c := range m.captures {
		if c.ProjectID != projectID || c.Archived {
			continue
		}
		if runID != nil && c.RunID != *runID {
			continue
		}
		if c.Status == "running" || c.Status == "backfilling" {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetRunInProjectsTx(ctx context.Context, tx *gorm.DB, projectIDs []string, id string) (*models.Run, error) {
	r, ok := m.runs[id]
	if !ok || !slices.Contains(projectIDs, r.ProjectID) {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetCaptureSessionInProjectsTx(ctx context.Context, tx *gorm.DB, projectIDs []string, id string) (*models.CaptureSession, error) {
	c, ok := m.captures[id]
	if !ok || !slices.Contains(projectIDs, c.ProjectID) {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListSensorProjectIDsTx(ctx context.Context, tx *gorm.DB, sensorID string) ([]string, error) {
	return m.projects[sensorID], nil
}

func (m *memStore) InsertTelemetryRecordsTx(ctx context.Context, tx *gorm.DB, items []models.TelemetryRecord, chunkSize int) error {
	for _, item := range items {
		m.nextID++
		item.ID = m.nextID
		m.records = append(m.records, item)
	}
	return nil
}

func (m *memStore) GetCaptureSession(ctx context.Context, projectID, id string) (*models.CaptureSession, error) {
	c, ok := m.captures[id]
	if !ok || c.ProjectID != projectID {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListSensorProjectIDs(ctx context.Context, sensorID string) ([]string, error) {
	return m.projects[sensorID], nil
}

func (m *memStore) QueryCaptureTelemetry(ctx context.Context, params repository.CaptureTelemetryQuery) ([]models.TelemetryRecord, error) {
	var out []models.TelemetryRecord
	for _, r := range m.records {
		if r.CaptureSessionID == nil || *r.CaptureSessionID != params.CaptureSessionID || r.ID <= params.SinceID {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b models.TelemetryRecord) int { return cmp.Compare(a.ID, b.ID) })
	if len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (m *memStore) QuerySensorTelemetry(ctx context.Context, params repository.SensorTelemetryQuery) ([]models.TelemetryRecord, error) {
	var out []models.TelemetryRecord
	for _, r := range m.records {
		if r.SensorID == params.SensorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ListTelemetryAfter(ctx context.Context, params repository.TelemetryStreamQuery) ([]models.TelemetryRecord, error) {
	var out []models.TelemetryRecord
	for _, r := range m.records {
		if r.ID <= params.AfterID {
			continue
		}
		if len(params.SensorIDs) > 0 && !slices.Contains(params.SensorIDs, r.SensorID) {
			continue
		}
		out = append(out, r)
		if len(out) == params.Limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) ListRollups(ctx context.Context, params repository.RollupQuery) ([]models.TelemetryRollup, error) {
	return nil, nil
}

func (m *memStore) RefreshRollups(ctx context.Context, since time.Time) (int64, error) {
	m.rollupAt = since
	return 3, nil
}

func (m *memStore) ListTelemetryArchives(ctx context.Context, sensorID string, limit, offset int) ([]models.TelemetryArchive, error) {
	return m.archives, nil
}

func (m *memStore) ListArchiveCandidates(ctx context.Context, before time.Time, limit int) ([]repository.ArchiveBucket, error) {
	return m.buckets, nil
}

func (m *memStore) ListTelemetryForArchive(ctx context.Context, bucket repository.ArchiveBucket) ([]models.TelemetryRecord, error) {
	var out []models.TelemetryRecord
	for _, r := range m.records {
		if r.SensorID == bucket.SensorID && r.ID <= bucket.MaxID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) SaveArchiveTx(ctx context.Context, tx *gorm.DB, item *models.TelemetryArchive, bucket repository.ArchiveBucket) (int64, error) {
	m.archives = append(m.archives, *item)
	kept := m.records[:0]
	var deleted int64
	for _, r := range m.records {
		if r.SensorID == bucket.SensorID && r.ID <= bucket.MaxID {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}
