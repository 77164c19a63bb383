package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"experimentservice/internal/apperr"
	"experimentservice/internal/config"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

func storeWithRecords(n int) *memStore {
	m := seededStore()
	c := capID
	for i := 0; i < n; i++ {
		m.nextID++
		m.records = append(m.records, models.TelemetryRecord{
			ID: m.nextID, SensorID: sensorID, ProjectID: projectB, CaptureSessionID: &c, Timestamp: baseTS,
		})
	}
	return m
}

func TestQueryByCapture_NextSinceIDWhenPageFull(t *testing.T) {
	m := storeWithRecords(5)
	svc := &QueryService{Repo: m}
	page, err := svc.ByCapture(context.Background(), projectB, CaptureQuery{CaptureSessionID: capID, Limit: 2})
	if err != nil {
		t.Fatalf("ByCapture err=%v", err)
	}
	if len(page.Points) != 2 || page.NextSinceID == nil || *page.NextSinceID != 2 {
		t.Fatalf("page=%+v", page)
	}
	page, err = svc.ByCapture(context.Background(), projectB, CaptureQuery{CaptureSessionID: capID, SinceID: 4, Limit: 2})
	if err != nil {
		t.Fatalf("ByCapture err=%v", err)
	}
	if len(page.Points) != 1 || page.NextSinceID != nil {
		t.Fatalf("last page=%+v", page)
	}
}

func TestQueryByCapture_ScopedToProject(t *testing.T) {
	svc := &QueryService{Repo: storeWithRecords(1)}
	_, err := svc.ByCapture(context.Background(), projectA, CaptureQuery{CaptureSessionID: capID})
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("err=%v want not found", err)
	}
}

func TestQueryByCapture_Limits(t *testing.T) {
	svc := &QueryService{Repo: storeWithRecords(1), Config: config.TelemetryConfig{QueryMaxLimit: 10, QueryMaxSensors: 2}}
	if got, _ := svc.limit(50); got != 10 {
		t.Fatalf("limit=%d want=10", got)
	}
	if got, _ := svc.limit(0); got != 2000 {
		t.Fatalf("default limit=%d want=2000", got)
	}
	if _, err := svc.limit(-1); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("negative limit err=%v", err)
	}
	_, err := svc.ByCapture(context.Background(), projectB, CaptureQuery{
		CaptureSessionID: capID, SensorIDs: []string{"a", "b", "c"},
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("too many sensors err=%v", err)
	}
}

func TestQueryBySensor_RequiresMembership(t *testing.T) {
	m := storeWithRecords(2)
	svc := &QueryService{Repo: m}
	page, err := svc.BySensor(context.Background(), projectA, SensorQuery{SensorID: sensorID})
	if err != nil || len(page.Points) != 2 {
		t.Fatalf("page=%+v err=%v", page, err)
	}
	_, err = svc.BySensor(context.Background(), "99999999-9999-9999-9999-999999999999", SensorQuery{SensorID: sensorID})
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("err=%v want not found", err)
	}
}

func TestRollupsRejectInvertedRange(t *testing.T) {
	svc := &QueryService{Repo: seededStore()}
	from := baseTS
	to := baseTS.Add(-time.Minute)
	_, err := svc.Rollups(context.Background(), projectA, RollupQuery{SensorID: sensorID, From: &from, To: &to})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err=%v want validation", err)
	}
}

func TestRollupRunOnceUsesLookback(t *testing.T) {
	m := newMemStore()
	now := time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)
	r := &Rollup{Repo: m, Lookback: time.Hour, Now: func() time.Time { return now }}
	n, err := r.RunOnce(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if want := time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC); !m.rollupAt.Equal(want) {
		t.Fatalf("since=%v want=%v", m.rollupAt, want)
	}
}

func TestNilServicesReportUnavailable(t *testing.T) {
	var q *QueryService
	if _, err := q.ByCapture(context.Background(), projectA, CaptureQuery{}); !errors.Is(err, repository.ErrUnavailable) {
		t.Fatalf("err=%v want=%v", err, repository.ErrUnavailable)
	}
}
