package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"gorm.io/gorm"

	"experimentservice/internal/auth"
	"experimentservice/internal/idempotency"
	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
	"experimentservice/internal/telemetry"
)

const (
	testSensor      = "3f1c2b7e-8a4d-4e6f-9b20-6d5c4a3b2e10"
	testSensorToken = "sensor-secret"
)

// ingestStore knows one active sensor of testProject and counts inserts.
type ingestStore struct {
	inserts int
	rows    int
}

func (s *ingestStore) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (s *ingestStore) GetSensorByTokenHashTx(ctx context.Context, tx *gorm.DB, tokenHash string) (*models.Sensor, error) {
	if tokenHash != auth.HashToken(testSensorToken) {
		return nil, nil
	}
	return &models.Sensor{ID: testSensor, ProjectID: testProject, Status: lifecycle.StatusActive}, nil
}

func (s *ingestStore) TouchSensorHeartbeatTx(ctx context.Context, tx *gorm.DB, sensorID string, at time.Time) error {
	return nil
}

func (s *ingestStore) GetActiveConversionProfileTx(ctx context.Context, tx *gorm.DB, sensorID string) (*models.ConversionProfile, error) {
	return nil, nil
}

func (s *ingestStore) FindActiveCaptureSessionTx(ctx context.Context, tx *gorm.DB, projectID string, runID *string) (*models.CaptureSession, error) {
	return nil, nil
}

func (s *ingestStore) GetRunInProjectsTx(ctx context.Context, tx *gorm.DB, projectIDs []string, id string) (*models.Run, error) {
	return nil, nil
}

func (s *ingestStore) GetCaptureSessionInProjectsTx(ctx context.Context, tx *gorm.DB, projectIDs []string, id string) (*models.CaptureSession, error) {
	return nil, nil
}

func (s *ingestStore) ListSensorProjectIDsTx(ctx context.Context, tx *gorm.DB, sensorID string) ([]string, error) {
	return []string{testProject}, nil
}

func (s *ingestStore) InsertTelemetryRecordsTx(ctx context.Context, tx *gorm.DB, items []models.TelemetryRecord, chunkSize int) error {
	s.inserts++
	s.rows += len(items)
	return nil
}

func TestIngestReplaysWithSameKey(t *testing.T) {
	store := &ingestStore{}
	h := &TelemetryHandler{
		Ingest: &telemetry.IngestService{Repo: store},
		Idem:   &idempotency.Guard{Repo: &idemStore{rows: map[string]models.IdempotencyKey{}}},
	}
	r := newTestRouter(h)
	headers := map[string]string{
		"Authorization":       "Bearer " + testSensorToken,
		idempotency.HeaderKey: "batch-1",
	}
	body := `{"sensor_id":"` + testSensor + `","readings":[` +
		`{"timestamp":"2026-03-01T12:00:00Z","raw_value":1.5},` +
		`{"timestamp":"2026-03-01T12:00:01Z","raw_value":1.6}]}`

	first := send(r, http.MethodPost, "/api/v1/telemetry", body, headers)
	if first.Code != http.StatusAccepted {
		t.Fatalf("status=%d want=%d body=%s", first.Code, http.StatusAccepted, first.Body.String())
	}
	second := send(r, http.MethodPost, "/api/v1/telemetry", body, headers)
	if second.Code != http.StatusAccepted {
		t.Fatalf("retry status=%d want=%d", second.Code, http.StatusAccepted)
	}
	if second.Header().Get(idempotency.HeaderReplayed) != "true" {
		t.Fatalf("replay header missing")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body=%s want=%s", second.Body.String(), first.Body.String())
	}
	if store.inserts != 1 || store.rows != 2 {
		t.Fatalf("inserts=%d rows=%d want=1/2", store.inserts, store.rows)
	}

	other := `{"sensor_id":"` + testSensor + `","readings":[{"timestamp":"2026-03-01T12:00:02Z","raw_value":9}]}`
	third := send(r, http.MethodPost, "/api/v1/telemetry", other, headers)
	if third.Code != http.StatusConflict {
		t.Fatalf("reused key status=%d want=%d", third.Code, http.StatusConflict)
	}
	if store.inserts != 1 {
		t.Fatalf("inserts=%d want=1", store.inserts)
	}
}

func TestIngestReplayNeedsSameToken(t *testing.T) {
	store := &ingestStore{}
	h := &TelemetryHandler{
		Ingest: &telemetry.IngestService{Repo: store},
		Idem:   &idempotency.Guard{Repo: &idemStore{rows: map[string]models.IdempotencyKey{}}},
	}
	r := newTestRouter(h)
	body := `{"sensor_id":"` + testSensor + `","readings":[{"timestamp":"2026-03-01T12:00:00Z","raw_value":1}]}`

	w := send(r, http.MethodPost, "/api/v1/telemetry", body, map[string]string{
		"Authorization": "Bearer " + testSensorToken, idempotency.HeaderKey: "batch-2",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d want=%d", w.Code, http.StatusAccepted)
	}
	w = send(r, http.MethodPost, "/api/v1/telemetry", body, map[string]string{
		"Authorization": "Bearer stolen-key-only", idempotency.HeaderKey: "batch-2",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d want=%d", w.Code, http.StatusConflict)
	}
	if w.Header().Get(idempotency.HeaderReplayed) != "" {
		t.Fatalf("replayed to a different token")
	}
}

func TestTelemetryQueryRejectsMalformedIDs(t *testing.T) {
	r := newTestRouter(&TelemetryHandler{})
	for _, path := range []string{
		"/api/v1/telemetry/query?sensor_id=s1",
		"/api/v1/telemetry/query?capture_session_id=c1",
		"/api/v1/telemetry/rollups?sensor_id=s1",
		"/api/v1/telemetry/stream?sensor_id=s1",
	} {
		w := send(r, http.MethodGet, path, "", caller(auth.RoleViewer))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s status=%d want=%d", path, w.Code, http.StatusBadRequest)
		}
		if reason := decode(t, w).Meta["reason"]; reason != reasonInvalidID {
			t.Fatalf("%s reason=%v want=%s", path, reason, reasonInvalidID)
		}
	}
}
