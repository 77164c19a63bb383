package telemetry

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"experimentservice/internal/apperr"
	"experimentservice/internal/auth"
	"experimentservice/internal/config"
	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
)

const (
	projectA   = "11111111-1111-1111-1111-111111111111"
	projectB   = "22222222-2222-2222-2222-222222222222"
	sensorID   = "33333333-3333-3333-3333-333333333333"
	runID      = "44444444-4444-4444-4444-444444444444"
	capID      = "55555555-5555-5555-5555-555555555555"
	otherRunID = "77777777-7777-7777-7777-777777777777"
	token      = "sensor-token"
)

var baseTS = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seededStore() *memStore {
	m := newMemStore()
	m.sensors[sensorID] = &models.Sensor{
		ID: sensorID, ProjectID: projectA, Status: lifecycle.StatusRegistering, TokenHash: auth.HashToken(token),
	}
	m.projects[sensorID] = []string{projectA, projectB}
	m.runs[runID] = &models.Run{ID: runID, ProjectID: projectB, Status: lifecycle.StatusRunning}
	m.captures[capID] = &models.CaptureSession{ID: capID, ProjectID: projectB, RunID: runID, Status: lifecycle.StatusRunning}
	return m
}

func newIngest(m *memStore) *IngestService {
	return &IngestService{Repo: m, Config: config.TelemetryConfig{
		MaxReadings: 10, MaxBatchMetaBytes: 64, MaxReadingMetaBytes: 64, InsertChunkSize: 4,
	}}
}

func readings(n int) []Reading {
	out := make([]Reading, n)
	for i := range out {
		out[i] = Reading{Timestamp: baseTS.Add(time.Duration(i) * time.Second), RawValue: float64(i)}
	}
	return out
}

func strp(s string) *string { return &s }

func systemMeta(t *testing.T, rec models.TelemetryRecord) map[string]any {
	t.Helper()
	var meta map[string]any
	if err := json.Unmarshal(rec.Meta, &meta); err != nil {
		t.Fatalf("meta decode err=%v", err)
	}
	sys, _ := meta[systemKey].(map[string]any)
	return sys
}

func TestIngest_UnknownTokenIsUnauthorized(t *testing.T) {
	m := seededStore()
	svc := newIngest(m)
	_, err := svc.Ingest(context.Background(), "wrong", Batch{SensorID: sensorID, Readings: readings(1)})
	if !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Fatalf("err=%v want unauthorized", err)
	}
	_, err = svc.Ingest(context.Background(), token, Batch{SensorID: "66666666-6666-6666-6666-666666666666", Readings: readings(1)})
	if !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Fatalf("mismatched sensor err=%v want unauthorized", err)
	}
	if len(m.records) != 0 {
		t.Fatalf("records=%d want=0", len(m.records))
	}
}

func TestIngest_RunAutoAttachesRecordingSession(t *testing.T) {
	m := seededStore()
	res, err := newIngest(m).Ingest(context.Background(), token, Batch{
		SensorID: sensorID, RunID: strp(runID), Readings: readings(3),
	})
	if err != nil {
		t.Fatalf("Ingest err=%v", err)
	}
	if res.Accepted != 3 || res.IngestMode != lifecycle.IngestLive || res.ProjectID != projectB {
		t.Fatalf("result=%+v", res)
	}
	if res.CaptureSessionID == nil || *res.CaptureSessionID != capID {
		t.Fatalf("capture=%v want=%s", res.CaptureSessionID, capID)
	}
	for _, rec := range m.records {
		if rec.CaptureSessionID == nil || *rec.CaptureSessionID != capID || rec.ProjectID != projectB {
			t.Fatalf("record=%+v", rec)
		}
		if sys := systemMeta(t, rec); sys["capture_session_auto_attached"] != true {
			t.Fatalf("__system=%v", sys)
		}
		if rec.ConversionStatus != ConversionRawOnly {
			t.Fatalf("conversion_status=%s want=%s", rec.ConversionStatus, ConversionRawOnly)
		}
	}
	if got := m.heartbeat[sensorID]; !got.Equal(baseTS.Add(2 * time.Second)) {
		t.Fatalf("heartbeat=%v want newest reading", got)
	}
}

func TestIngest_StoppedSessionIsLateAndNotAttached(t *testing.T) {
	m := seededStore()
	m.captures[capID].Status = lifecycle.StatusSucceeded
	res, err := newIngest(m).Ingest(context.Background(), token, Batch{
		SensorID: sensorID, CaptureSessionID: strp(capID), Readings: readings(2),
	})
	if err != nil {
		t.Fatalf("Ingest err=%v", err)
	}
	if res.IngestMode != lifecycle.IngestLate || res.CaptureSessionID != nil {
		t.Fatalf("result=%+v", res)
	}
	if res.RunID == nil || *res.RunID != runID {
		t.Fatalf("run=%v want=%s (loaded from capture)", res.RunID, runID)
	}
	rec := m.records[0]
	if rec.CaptureSessionID != nil || rec.IngestMode != string(lifecycle.IngestLate) {
		t.Fatalf("record=%+v", rec)
	}
	sys := systemMeta(t, rec)
	if sys["late"] != true || sys["capture_session_attached"] != false || sys["capture_session_id"] != capID {
		t.Fatalf("__system=%v", sys)
	}
	if sys["capture_session_status"] != string(lifecycle.StatusSucceeded) {
		t.Fatalf("__system status=%v", sys["capture_session_status"])
	}
}

func TestIngest_ArchivedScopeRejectsWholeBatch(t *testing.T) {
	m := seededStore()
	m.runs[runID].Status = lifecycle.StatusArchived
	_, err := newIngest(m).Ingest(context.Background(), token, Batch{
		SensorID: sensorID, RunID: strp(runID), Readings: readings(5),
	})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("err=%v want conflict", err)
	}
	if len(m.records) != 0 {
		t.Fatalf("records=%d want=0", len(m.records))
	}
	if _, ok := m.heartbeat[sensorID]; ok {
		t.Fatalf("heartbeat touched on rejected batch")
	}
}

func TestIngest_InfersProjectSession(t *testing.T) {
	m := seededStore()
	m.runs[runID].ProjectID = projectA
	m.captures[capID].ProjectID = projectA
	res, err := newIngest(m).Ingest(context.Background(), token, Batch{SensorID: sensorID, Readings: readings(1)})
	if err != nil {
		t.Fatalf("Ingest err=%v", err)
	}
	if res.CaptureSessionID == nil || *res.CaptureSessionID != capID || res.RunID == nil || *res.RunID != runID {
		t.Fatalf("result=%+v", res)
	}
	if sys := systemMeta(t, m.records[0]); sys["capture_session_inferred_from_project"] != true {
		t.Fatalf("__system=%v", sys)
	}
}

func TestIngest_NoScopeUsesSensorProject(t *testing.T) {
	m := seededStore()
	delete(m.captures, capID)
	res, err := newIngest(m).Ingest(context.Background(), token, Batch{SensorID: sensorID, Readings: readings(1)})
	if err != nil {
		t.Fatalf("Ingest err=%v", err)
	}
	if res.ProjectID != projectA || res.RunID != nil || res.IngestMode != lifecycle.IngestLive {
		t.Fatalf("result=%+v", res)
	}
}

func TestIngest_RunCaptureMismatch(t *testing.T) {
	m := seededStore()
	m.runs[otherRunID] = &models.Run{ID: otherRunID, ProjectID: projectB, Status: lifecycle.StatusRunning}
	_, err := newIngest(m).Ingest(context.Background(), token, Batch{
		SensorID: sensorID, RunID: strp(otherRunID), CaptureSessionID: strp(capID), Readings: readings(1),
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err=%v want validation", err)
	}
}

func TestIngest_MetaMergeAndConversion(t *testing.T) {
	m := seededStore()
	m.profiles[sensorID] = &models.ConversionProfile{ID: "prof-1", Kind: KindLinear, Payload: []byte(`{"a":10,"b":0}`)}
	phys := 42.0
	batch := Batch{
		SensorID: sensorID,
		RunID:    strp(runID),
		Meta:     json.RawMessage(`{"site":"lab","signal":"temp","__system":{"client":1}}`),
		Readings: []Reading{
			{Timestamp: baseTS, RawValue: 2, Meta: json.RawMessage(`{"signal":"pressure"}`)},
			{Timestamp: baseTS, RawValue: 3, PhysicalValue: &phys},
		},
	}
	if _, err := newIngest(m).Ingest(context.Background(), token, batch); err != nil {
		t.Fatalf("Ingest err=%v", err)
	}
	var meta map[string]any
	_ = json.Unmarshal(m.records[0].Meta, &meta)
	if meta["signal"] != "pressure" || meta["site"] != "lab" {
		t.Fatalf("meta=%v", meta)
	}
	sys := meta[systemKey].(map[string]any)
	if sys["client"] != float64(1) || sys["capture_session_auto_attached"] != true {
		t.Fatalf("__system=%v", sys)
	}

	first, second := m.records[0], m.records[1]
	if first.ConversionStatus != ConversionConverted || first.PhysicalValue == nil || *first.PhysicalValue != 20 {
		t.Fatalf("first=%+v", first)
	}
	if first.ConversionProfileID == nil || *first.ConversionProfileID != "prof-1" {
		t.Fatalf("profile id=%v", first.ConversionProfileID)
	}
	if second.ConversionStatus != ConversionClientProvided || *second.PhysicalValue != 42 || second.ConversionProfileID != nil {
		t.Fatalf("second=%+v", second)
	}
}

func TestIngest_Validation(t *testing.T) {
	m := seededStore()
	svc := newIngest(m)
	cases := []Batch{
		{SensorID: sensorID},
		{SensorID: sensorID, Readings: readings(11)},
		{SensorID: sensorID, Readings: []Reading{{RawValue: 1}}},
		{SensorID: sensorID, Readings: readings(1), Meta: json.RawMessage(`{"x":"` + strings.Repeat("a", 80) + `"}`)},
		{SensorID: sensorID, Readings: readings(1), Meta: json.RawMessage(`[1,2]`)},
		{SensorID: "not-a-uuid", Readings: readings(1)},
		{SensorID: sensorID, RunID: strp("run-1"), Readings: readings(1)},
		{SensorID: sensorID, CaptureSessionID: strp("cap-1"), Readings: readings(1)},
	}
	for i, batch := range cases {
		_, err := svc.Ingest(context.Background(), token, batch)
		if !apperr.IsKind(err, apperr.KindValidation) {
			t.Fatalf("case %d err=%v want validation", i, err)
		}
	}
	if len(m.records) != 0 {
		t.Fatalf("records=%d want=0", len(m.records))
	}
}

func TestIngest_DecommissionedSensor(t *testing.T) {
	m := seededStore()
	m.sensors[sensorID].Status = lifecycle.StatusDecommissioned
	_, err := newIngest(m).Ingest(context.Background(), token, Batch{SensorID: sensorID, Readings: readings(1)})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("err=%v want conflict", err)
	}
}
