package service

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"experimentservice/internal/audit"
	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

// memRepo implements the slice of repository.Repository the services touch.
// Calling anything else panics on the nil embedded interface.
type memRepo struct {
	repository.Repository

	experiments map[string]models.Experiment
	runs        map[string]models.Run
	captures    map[string]models.CaptureSession
	sensors     map[string]models.Sensor
	links       map[string][]string
	profiles    map[string]models.ConversionProfile
	deliveries  map[string]models.WebhookDelivery
	subs        []models.WebhookSubscription
	events      []models.AuditEvent

	sensorRefs  map[string]int64
	lateRecords map[string]int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		experiments: map[string]models.Experiment{},
		runs:        map[string]models.Run{},
		captures:    map[string]models.CaptureSession{},
		sensors:     map[string]models.Sensor{},
		links:       map[string][]string{},
		profiles:    map[string]models.ConversionProfile{},
		deliveries:  map[string]models.WebhookDelivery{},
		sensorRefs:  map[string]int64{},
		lateRecords: map[string]int64{},
	}
}

func uniqueErr(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func (m *memRepo) recorder() *audit.Recorder {
	return &audit.Recorder{Repo: m}
}

func (m *memRepo) eventTypes() []string {
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (m *memRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (m *memRepo) InsertAuditEventsTx(ctx context.Context, tx *gorm.DB, items []models.AuditEvent) error {
	m.events = append(m.events, items...)
	return nil
}

func (m *memRepo) CreateExperimentTx(ctx context.Context, tx *gorm.DB, item *models.Experiment) error {
	for _, e := range m.experiments {
		if e.ProjectID == item.ProjectID && strings.EqualFold(e.Name, item.Name) {
			return uniqueErr(experimentNameIndex)
		}
	}
	m.experiments[item.ID] = *item
	return nil
}

func (m *memRepo) GetExperiment(ctx context.Context, projectID, id string) (*models.Experiment, error) {
	e, ok := m.experiments[id]
	if !ok || e.ProjectID != projectID {
		return nil, nil
	}
	return &e, nil
}

func (m *memRepo) GetExperimentForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.Experiment, error) {
	return m.GetExperiment(ctx, projectID, id)
}

func (m *memRepo) UpdateExperimentTx(ctx context.Context, tx *gorm.DB, item *models.Experiment) error {
	for _, e := range m.experiments {
		if e.ID != item.ID && e.ProjectID == item.ProjectID && strings.EqualFold(e.Name, item.Name) {
			return uniqueErr(experimentNameIndex)
		}
	}
	m.experiments[item.ID] = *item
	return nil
}

func (m *memRepo) CreateRunTx(ctx context.Context, tx *gorm.DB, item *models.Run) error {
	m.runs[item.ID] = *item
	return nil
}

func (m *memRepo) GetRun(ctx context.Context, projectID, id string) (*models.Run, error) {
	r, ok := m.runs[id]
	if !ok || r.ProjectID != projectID {
		return nil, nil
	}
	return &r, nil
}

func (m *memRepo) GetRunForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.Run, error) {
	return m.GetRun(ctx, projectID, id)
}

func (m *memRepo) ListRunsForUpdateTx(ctx context.Context, tx *gorm.DB, projectID string, ids []string) ([]models.Run, error) {
	var out []models.Run
	for _, id := range ids {
		if r, ok := m.runs[id]; ok && r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateRunTx(ctx context.Context, tx *gorm.DB, item *models.Run) error {
	m.runs[item.ID] = *item
	return nil
}

func (m *memRepo) CountOpenCaptureSessionsTx(ctx context.Context, tx *gorm.DB, runIDs []string) (map[string]int, error) {
	out := map[string]int{}
	for _, c := range m.captures {
		if lifecycle.IsOpenCapture(c.Status) && !c.Archived {
			out[c.RunID]++
		}
	}
	return out, nil
}

func (m *memRepo) CreateCaptureSessionTx(ctx context.Context, tx *gorm.DB, item *models.CaptureSession) error {
	for _, c := range m.captures {
		if c.RunID == item.RunID && c.OrdinalNumber == item.OrdinalNumber {
			return uniqueErr(captureOrdinalIndex)
		}
		if c.ProjectID == item.ProjectID && lifecycle.IsRecording(c.Status) && !c.Archived && lifecycle.IsRecording(item.Status) {
			return uniqueErr(captureActiveIndex)
		}
	}
	m.captures[item.ID] = *item
	return nil
}

func (m *memRepo) GetCaptureSession(ctx context.Context, projectID, id string) (*models.CaptureSession, error) {
	c, ok := m.captures[id]
	if !ok || c.ProjectID != projectID {
		return nil, nil
	}
	return &c, nil
}

func (m *memRepo) GetCaptureSessionForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.CaptureSession, error) {
	return m.GetCaptureSession(ctx, projectID, id)
}

func (m *memRepo) UpdateCaptureSessionTx(ctx context.Context, tx *gorm.DB, item *models.CaptureSession) error {
	m.captures[item.ID] = *item
	return nil
}

func (m *memRepo) DeleteCaptureSessionTx(ctx context.Context, tx *gorm.DB, id string) error {
	delete(m.captures, id)
	return nil
}

func (m *memRepo) NextCaptureOrdinalTx(ctx context.Context, tx *gorm.DB, runID string) (int, error) {
	n := 0
	for _, c := range m.captures {
		if c.RunID == runID && c.OrdinalNumber > n {
			n = c.OrdinalNumber
		}
	}
	return n + 1, nil
}

func (m *memRepo) FindActiveCaptureSessionTx(ctx context.Context, tx *gorm.DB, projectID string, runID *string) (*models.CaptureSession, error) {
	for _, c := range m.captures {
		if c.ProjectID != projectID || c.Archived || !lifecycle.IsRecording(c.Status) {
			continue
		}
		if runID != nil && c.RunID != *runID {
			continue
		}
		return &c, nil
	}
	return nil, nil
}

func (m *memRepo) ListStaleCaptureSessions(ctx context.Context, startedBefore time.Time, limit int) ([]models.CaptureSession, error) {
	var out []models.CaptureSession
	for _, c := range m.captures {
		if lifecycle.IsRecording(c.Status) && c.StartedAt != nil && c.StartedAt.Before(startedBefore) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memRepo) AttachLateRecordsTx(ctx context.Context, tx *gorm.DB, captureSessionID string) (int64, error) {
	n := m.lateRecords[captureSessionID]
	delete(m.lateRecords, captureSessionID)
	return n, nil
}

func (m *memRepo) CountActiveSessionsUsingSensorTx(ctx context.Context, tx *gorm.DB, sensorID string) (int64, error) {
	return m.sensorRefs[sensorID], nil
}

func (m *memRepo) CreateSensorTx(ctx context.Context, tx *gorm.DB, item *models.Sensor, projectIDs []string) error {
	m.sensors[item.ID] = *item
	m.links[item.ID] = append([]string{item.ProjectID}, projectIDs...)
	return nil
}

func (m *memRepo) visible(sensorID, projectID string) bool {
	for _, pid := range m.links[sensorID] {
		if pid == projectID {
			return true
		}
	}
	return false
}

func (m *memRepo) GetSensor(ctx context.Context, projectID, id string) (*models.Sensor, error) {
	s, ok := m.sensors[id]
	if !ok || !m.visible(id, projectID) {
		return nil, nil
	}
	return &s, nil
}

func (m *memRepo) GetSensorForUpdateTx(ctx context.Context, tx *gorm.DB, projectID, id string) (*models.Sensor, error) {
	return m.GetSensor(ctx, projectID, id)
}

func (m *memRepo) UpdateSensorTx(ctx context.Context, tx *gorm.DB, item *models.Sensor) error {
	m.sensors[item.ID] = *item
	return nil
}

func (m *memRepo) ListSensorProjectIDs(ctx context.Context, sensorID string) ([]string, error) {
	return m.links[sensorID], nil
}

func (m *memRepo) AddSensorProjectTx(ctx context.Context, tx *gorm.DB, sensorID, projectID string) error {
	if !m.visible(sensorID, projectID) {
		m.links[sensorID] = append(m.links[sensorID], projectID)
	}
	return nil
}

func (m *memRepo) RemoveSensorProjectTx(ctx context.Context, tx *gorm.DB, sensorID, projectID string) (bool, error) {
	links := m.links[sensorID]
	for i, pid := range links {
		if pid == projectID {
			m.links[sensorID] = append(links[:i:i], links[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) CreateConversionProfileTx(ctx context.Context, tx *gorm.DB, item *models.ConversionProfile) error {
	for _, p := range m.profiles {
		if p.SensorID == item.SensorID && p.Version == item.Version {
			return uniqueErr(profileVersionIndex)
		}
	}
	m.profiles[item.ID] = *item
	return nil
}

func (m *memRepo) GetConversionProfileForUpdateTx(ctx context.Context, tx *gorm.DB, sensorID, id string) (*models.ConversionProfile, error) {
	p, ok := m.profiles[id]
	if !ok || p.SensorID != sensorID {
		return nil, nil
	}
	return &p, nil
}

func (m *memRepo) GetActiveConversionProfileTx(ctx context.Context, tx *gorm.DB, sensorID string) (*models.ConversionProfile, error) {
	for _, p := range m.profiles {
		if p.SensorID == sensorID && p.Status == lifecycle.StatusActive {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memRepo) UpdateConversionProfileTx(ctx context.Context, tx *gorm.DB, item *models.ConversionProfile) error {
	if item.Status == lifecycle.StatusActive {
		for _, p := range m.profiles {
			if p.ID != item.ID && p.SensorID == item.SensorID && p.Status == lifecycle.StatusActive {
				return uniqueErr(profileActiveIndex)
			}
		}
	}
	m.profiles[item.ID] = *item
	return nil
}

func (m *memRepo) CreateWebhookSubscription(ctx context.Context, item *models.WebhookSubscription) error {
	m.subs = append(m.subs, *item)
	return nil
}

func (m *memRepo) GetWebhookSubscription(ctx context.Context, projectID, id string) (*models.WebhookSubscription, error) {
	for _, sub := range m.subs {
		if sub.ID == id && sub.ProjectID == projectID && sub.IsActive {
			return &sub, nil
		}
	}
	return nil, nil
}

// DeleteWebhookSubscription mirrors the store: deactivate, fail what is pending.
func (m *memRepo) DeleteWebhookSubscription(ctx context.Context, projectID, id string) (bool, error) {
	for i, sub := range m.subs {
		if sub.ID != id || sub.ProjectID != projectID || !sub.IsActive {
			continue
		}
		m.subs[i].IsActive = false
		for key, d := range m.deliveries {
			if d.SubscriptionID == id && d.Status == models.DeliveryPending {
				d.Status = models.DeliveryFailed
				m.deliveries[key] = d
			}
		}
		return true, nil
	}
	return false, nil
}

func (m *memRepo) ListWebhookDeliveries(ctx context.Context, params repository.ListWebhookDeliveriesParams) ([]models.WebhookDelivery, error) {
	var out []models.WebhookDelivery
	for _, d := range m.deliveries {
		if d.ProjectID != params.ProjectID {
			continue
		}
		if params.SubscriptionID != nil && d.SubscriptionID != *params.SubscriptionID {
			continue
		}
		if params.Status != nil && d.Status != *params.Status {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *memRepo) CountWebhookDeliveries(ctx context.Context, params repository.ListWebhookDeliveriesParams) (int64, error) {
	items, _ := m.ListWebhookDeliveries(ctx, params)
	return int64(len(items)), nil
}

func (m *memRepo) GetWebhookDelivery(ctx context.Context, projectID, id string) (*models.WebhookDelivery, error) {
	d, ok := m.deliveries[id]
	if !ok || d.ProjectID != projectID {
		return nil, nil
	}
	return &d, nil
}

func (m *memRepo) RequeueFailedDelivery(ctx context.Context, projectID, id string, now time.Time) (bool, error) {
	d, ok := m.deliveries[id]
	if !ok || d.ProjectID != projectID || d.Status != models.DeliveryFailed {
		return false, nil
	}
	if sub, _ := m.GetWebhookSubscription(ctx, projectID, d.SubscriptionID); sub == nil {
		return false, nil
	}
	d.Status = models.DeliveryPending
	d.AttemptCount = 0
	d.NextAttemptAt = now
	m.deliveries[id] = d
	return true, nil
}
