package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"experimentservice/internal/apperr"
	"experimentservice/internal/auth"
	"experimentservice/internal/config"
	"experimentservice/internal/lifecycle"
	"experimentservice/internal/metrics"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

const systemKey = "__system"

const (
	ReasonUnknownSensor        = "unknown_sensor"
	ReasonSensorDecommissioned = "sensor_decommissioned"
	ReasonScopeMismatch        = "scope_mismatch"
	ReasonInvalidBatch         = "invalid_batch"
	ReasonMetaTooLarge         = "meta_too_large"
)

// IngestStore is the slice of the repository the ingest path touches.
type IngestStore interface {
	repository.Transactor
	GetSensorByTokenHashTx(ctx context.Context, tx *gorm.DB, tokenHash string) (*models.Sensor, error)
	TouchSensorHeartbeatTx(ctx context.Context, tx *gorm.DB, sensorID string, at time.Time) error
	GetActiveConversionProfileTx(ctx context.Context, tx *gorm.DB, sensorID string) (*models.ConversionProfile, error)
	FindActiveCaptureSessionTx(ctx context.Context, tx *gorm.DB, projectID string, runID *string) (*models.CaptureSession, error)
	GetRunInProjectsTx(ctx context.Context, tx *gorm.DB, projectIDs []string, id string) (*models.Run, error)
	GetCaptureSessionInProjectsTx(ctx context.Context, tx *gorm.DB, projectIDs []string, id string) (*models.CaptureSession, error)
	ListSensorProjectIDsTx(ctx context.Context, tx *gorm.DB, sensorID string) ([]string, error)
	InsertTelemetryRecordsTx(ctx context.Context, tx *gorm.DB, items []models.TelemetryRecord, chunkSize int) error
}

type Reading struct {
	Timestamp     time.Time       `json:"timestamp"`
	RawValue      float64         `json:"raw_value"`
	PhysicalValue *float64        `json:"physical_value,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty" swaggertype:"object"`
}

type Batch struct {
	SensorID         string          `json:"sensor_id"`
	RunID            *string         `json:"run_id,omitempty"`
	CaptureSessionID *string         `json:"capture_session_id,omitempty"`
	Meta             json.RawMessage `json:"meta,omitempty" swaggertype:"object"`
	Readings         []Reading       `json:"readings"`
}

type IngestResult struct {
	Status           string               `json:"status"`
	Accepted         int                  `json:"accepted"`
	IngestMode       lifecycle.IngestMode `json:"ingest_mode"`
	ProjectID        string               `json:"project_id"`
	RunID            *string              `json:"run_id,omitempty"`
	CaptureSessionID *string              `json:"capture_session_id,omitempty"`
}

type IngestService struct {
	Repo    IngestStore
	Config  config.TelemetryConfig
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// resolved is the run and capture session a batch is written against.
type resolved struct {
	projectID string
	run       *models.Run
	capture   *models.CaptureSession
	attached  bool
	system    map[string]any
}

// Ingest authenticates the sensor by token and writes all readings in one
// transaction, or none of them.
func (s *IngestService) Ingest(ctx context.Context, token string, batch Batch) (IngestResult, error) {
	if s == nil || s.Repo == nil {
		return IngestResult{}, repository.ErrUnavailable
	}
	if err := s.validate(batch); err != nil {
		s.Metrics.IngestBatch("rejected", nil)
		return IngestResult{}, err
	}
	batchMeta, readingMeta, err := decodeMeta(batch)
	if err != nil {
		s.Metrics.IngestBatch("rejected", nil)
		return IngestResult{}, err
	}

	var (
		result   IngestResult
		byStatus map[string]int
	)
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		sensor, err := s.Repo.GetSensorByTokenHashTx(ctx, tx, auth.HashToken(token))
		if err != nil {
			return err
		}
		if sensor == nil || sensor.ID != batch.SensorID {
			return apperr.Unauthorized(ReasonUnknownSensor, "invalid sensor credentials")
		}
		if sensor.Status == lifecycle.StatusDecommissioned {
			return apperr.Conflict(ReasonSensorDecommissioned, "sensor is decommissioned")
		}

		scope, err := s.resolve(ctx, tx, sensor, batch)
		if err != nil {
			return err
		}
		mode, err := lifecycle.ClassifyIngest(scope.classify())
		if err != nil {
			return err
		}

		profileRow, err := s.Repo.GetActiveConversionProfileTx(ctx, tx, sensor.ID)
		if err != nil {
			return err
		}
		profile, err := NewProfile(profileRow)
		if err != nil {
			// A stored profile that no longer parses must not block ingest.
			if s.Logger != nil {
				s.Logger.Warn("conversion profile unusable", zap.String("sensor_id", sensor.ID), zap.Error(err))
			}
			profile = nil
		}

		records, counts, newest := s.buildRecords(sensor.ID, scope, mode, profile, batch, batchMeta, readingMeta)
		if err := s.Repo.InsertTelemetryRecordsTx(ctx, tx, records, s.Config.InsertChunkSize); err != nil {
			return err
		}
		if err := s.Repo.TouchSensorHeartbeatTx(ctx, tx, sensor.ID, newest); err != nil {
			return err
		}

		byStatus = counts
		result = IngestResult{
			Status:     "accepted",
			Accepted:   len(records),
			IngestMode: mode,
			ProjectID:  scope.projectID,
		}
		if scope.run != nil {
			result.RunID = &scope.run.ID
		}
		if scope.attached {
			result.CaptureSessionID = &scope.capture.ID
		}
		return nil
	})
	if err != nil {
		s.Metrics.IngestBatch("rejected", nil)
		return IngestResult{}, err
	}
	s.Metrics.IngestBatch(string(result.IngestMode), byStatus)
	return result, nil
}

func (s *IngestService) validate(batch Batch) error {
	maxReadings := s.Config.MaxReadings
	if maxReadings <= 0 {
		maxReadings = 10000
	}
	if batch.SensorID == "" {
		return apperr.Validation(ReasonInvalidBatch, "sensor_id is required")
	}
	ids := []struct {
		field string
		value *string
	}{
		{"sensor_id", &batch.SensorID},
		{"run_id", batch.RunID},
		{"capture_session_id", batch.CaptureSessionID},
	}
	for _, id := range ids {
		if id.value == nil {
			continue
		}
		if _, err := uuid.Parse(*id.value); err != nil {
			return apperr.Validation(ReasonInvalidBatch, "%s must be a uuid", id.field)
		}
	}
	if len(batch.Readings) == 0 || len(batch.Readings) > maxReadings {
		return apperr.Validation(ReasonInvalidBatch, "readings must contain 1..%d items", maxReadings)
	}
	if limit := s.Config.MaxBatchMetaBytes; limit > 0 && len(batch.Meta) > limit {
		return apperr.Validation(ReasonMetaTooLarge, "batch meta is too large")
	}
	for i, r := range batch.Readings {
		if r.Timestamp.IsZero() {
			return apperr.Validation(ReasonInvalidBatch, "readings[%d].timestamp is required", i)
		}
		if limit := s.Config.MaxReadingMetaBytes; limit > 0 && len(r.Meta) > limit {
			return apperr.Validation(ReasonMetaTooLarge, "readings[%d].meta is too large", i)
		}
	}
	return nil
}

// resolve finds the run and capture session for the batch. Explicit ids must
// agree; a run alone picks up its recording session; no ids at all falls back
// to the single recording session of the sensor's project.
func (s *IngestService) resolve(ctx context.Context, tx *gorm.DB, sensor *models.Sensor, batch Batch) (resolved, error) {
	out := resolved{projectID: sensor.ProjectID}
	projectIDs, err := s.Repo.ListSensorProjectIDsTx(ctx, tx, sensor.ID)
	if err != nil {
		return out, err
	}
	if len(projectIDs) == 0 {
		projectIDs = []string{sensor.ProjectID}
	}

	if batch.RunID != nil {
		run, err := s.Repo.GetRunInProjectsTx(ctx, tx, projectIDs, *batch.RunID)
		if err != nil {
			return out, err
		}
		if run == nil {
			return out, apperr.NotFound("run")
		}
		out.run = run
	}
	if batch.CaptureSessionID != nil {
		capture, err := s.Repo.GetCaptureSessionInProjectsTx(ctx, tx, projectIDs, *batch.CaptureSessionID)
		if err != nil {
			return out, err
		}
		if capture == nil {
			return out, apperr.NotFound("capture_session")
		}
		if out.run != nil && out.run.ID != capture.RunID {
			return out, apperr.Validation(ReasonScopeMismatch, "capture session does not belong to run %s", out.run.ID)
		}
		out.capture = capture
		if out.run == nil {
			run, err := s.Repo.GetRunInProjectsTx(ctx, tx, projectIDs, capture.RunID)
			if err != nil {
				return out, err
			}
			if run == nil {
				return out, apperr.NotFound("run")
			}
			out.run = run
		}
	}

	switch {
	case out.capture != nil:
		if lifecycle.IsRecording(out.capture.Status) && !out.capture.Archived {
			out.attached = true
		} else {
			out.system = map[string]any{
				"capture_session_attached": false,
				"capture_session_id":       out.capture.ID,
				"capture_session_status":   string(out.capture.Status),
			}
		}
	case out.run != nil:
		active, err := s.Repo.FindActiveCaptureSessionTx(ctx, tx, out.run.ProjectID, &out.run.ID)
		if err != nil {
			return out, err
		}
		if active != nil {
			out.capture = active
			out.attached = true
			out.system = map[string]any{"capture_session_auto_attached": true}
		}
	default:
		active, err := s.Repo.FindActiveCaptureSessionTx(ctx, tx, sensor.ProjectID, nil)
		if err != nil {
			return out, err
		}
		if active != nil {
			run, err := s.Repo.GetRunInProjectsTx(ctx, tx, projectIDs, active.RunID)
			if err != nil {
				return out, err
			}
			out.run = run
			out.capture = active
			out.attached = true
			out.system = map[string]any{"capture_session_inferred_from_project": true}
		}
	}
	if out.run != nil {
		out.projectID = out.run.ProjectID
	}
	return out, nil
}

func (r resolved) classify() lifecycle.Scope {
	var scope lifecycle.Scope
	if r.run != nil {
		st := r.run.Status
		scope.RunStatus = &st
	}
	if r.capture != nil {
		st := r.capture.Status
		scope.CaptureStatus = &st
		scope.CaptureArchived = r.capture.Archived
	}
	return scope
}

func (s *IngestService) buildRecords(
	sensorID string,
	scope resolved,
	mode lifecycle.IngestMode,
	profile *Profile,
	batch Batch,
	batchMeta map[string]any,
	readingMeta []map[string]any,
) ([]models.TelemetryRecord, map[string]int, time.Time) {
	system := map[string]any{}
	for k, v := range scope.system {
		system[k] = v
	}
	if mode == lifecycle.IngestLate {
		system["late"] = true
	}

	var runID, captureID *string
	if scope.run != nil {
		runID = &scope.run.ID
	}
	if scope.attached {
		captureID = &scope.capture.ID
	}
	var profileID *string
	if profile != nil {
		profileID = &profile.ID
	}

	counts := map[string]int{}
	records := make([]models.TelemetryRecord, 0, len(batch.Readings))
	var newest time.Time
	for i, reading := range batch.Readings {
		ts := reading.Timestamp.UTC()
		if ts.After(newest) {
			newest = ts
		}
		rec := models.TelemetryRecord{
			Timestamp:        ts,
			ProjectID:        scope.projectID,
			SensorID:         sensorID,
			RunID:            runID,
			CaptureSessionID: captureID,
			RawValue:         reading.RawValue,
			Meta:             mergeMeta(batchMeta, readingMeta[i], system),
			IngestMode:       string(mode),
		}
		if reading.PhysicalValue != nil {
			rec.PhysicalValue = reading.PhysicalValue
			rec.ConversionStatus = ConversionClientProvided
		} else {
			rec.PhysicalValue, rec.ConversionStatus = profile.Apply(ts, reading.RawValue)
			if rec.ConversionStatus != ConversionRawOnly {
				rec.ConversionProfileID = profileID
			}
		}
		counts[rec.ConversionStatus]++
		records = append(records, rec)
	}
	return records, counts, newest
}

func decodeMeta(batch Batch) (map[string]any, []map[string]any, error) {
	batchMeta, err := decodeObject(batch.Meta)
	if err != nil {
		return nil, nil, apperr.Validation(ReasonInvalidBatch, "meta must be a JSON object")
	}
	out := make([]map[string]any, len(batch.Readings))
	for i, r := range batch.Readings {
		m, err := decodeObject(r.Meta)
		if err != nil {
			return nil, nil, apperr.Validation(ReasonInvalidBatch, "readings[%d].meta must be a JSON object", i)
		}
		out[i] = m
	}
	return batchMeta, out, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// mergeMeta layers batch meta, reading meta (reading wins) and the server's
// __system markers, which are merged into any client supplied __system object.
func mergeMeta(batch, reading, system map[string]any) datatypes.JSON {
	out := make(map[string]any, len(batch)+len(reading)+1)
	for k, v := range batch {
		out[k] = v
	}
	for k, v := range reading {
		out[k] = v
	}
	if len(system) > 0 {
		sys := map[string]any{}
		if existing, ok := out[systemKey].(map[string]any); ok {
			for k, v := range existing {
				sys[k] = v
			}
		}
		for k, v := range system {
			sys[k] = v
		}
		out[systemKey] = sys
	}
	raw, _ := json.Marshal(out)
	return datatypes.JSON(raw)
}
