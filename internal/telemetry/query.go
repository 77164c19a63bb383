package telemetry

import (
	"context"
	"slices"
	"time"

	"experimentservice/internal/apperr"
	"experimentservice/internal/config"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

const ReasonInvalidQuery = "invalid_query"

// QueryStore is what read paths need: telemetry reads plus the membership
// lookups that scope them to the caller's project.
type QueryStore interface {
	GetCaptureSession(ctx context.Context, projectID, id string) (*models.CaptureSession, error)
	ListSensorProjectIDs(ctx context.Context, sensorID string) ([]string, error)
	QueryCaptureTelemetry(ctx context.Context, params repository.CaptureTelemetryQuery) ([]models.TelemetryRecord, error)
	QuerySensorTelemetry(ctx context.Context, params repository.SensorTelemetryQuery) ([]models.TelemetryRecord, error)
	ListTelemetryAfter(ctx context.Context, params repository.TelemetryStreamQuery) ([]models.TelemetryRecord, error)
	ListRollups(ctx context.Context, params repository.RollupQuery) ([]models.TelemetryRollup, error)
	ListTelemetryArchives(ctx context.Context, sensorID string, limit, offset int) ([]models.TelemetryArchive, error)
}

type QueryService struct {
	Repo   QueryStore
	Config config.TelemetryConfig
	Now    func() time.Time
}

type CaptureQuery struct {
	CaptureSessionID string
	SensorIDs        []string
	SinceID          int64
	Limit            int
	IncludeLate      bool
	Desc             bool
}

type SensorQuery struct {
	SensorID string
	Signal   *string
	From     *time.Time
	To       *time.Time
	Limit    int
	Desc     bool
}

type RollupQuery struct {
	SensorID string
	Signal   *string
	From     *time.Time
	To       *time.Time
	Limit    int
}

// Page is one slice of records. NextSinceID is set when the page is full and
// more rows may follow.
type Page struct {
	Points      []models.TelemetryRecord `json:"points"`
	NextSinceID *int64                   `json:"next_since_id"`
}

func (s *QueryService) ByCapture(ctx context.Context, projectID string, q CaptureQuery) (Page, error) {
	if s == nil || s.Repo == nil {
		return Page{}, repository.ErrUnavailable
	}
	if q.CaptureSessionID == "" {
		return Page{}, apperr.Validation(ReasonInvalidQuery, "capture_session_id is required")
	}
	if q.SinceID < 0 {
		return Page{}, apperr.Validation(ReasonInvalidQuery, "since_id must be >= 0")
	}
	if n := s.maxSensors(); len(q.SensorIDs) > n {
		return Page{}, apperr.Validation(ReasonInvalidQuery, "too many sensor_id values (max %d)", n)
	}
	limit, err := s.limit(q.Limit)
	if err != nil {
		return Page{}, err
	}
	capture, err := s.Repo.GetCaptureSession(ctx, projectID, q.CaptureSessionID)
	if err != nil {
		return Page{}, err
	}
	if capture == nil {
		return Page{}, apperr.NotFound("capture_session")
	}
	items, err := s.Repo.QueryCaptureTelemetry(ctx, repository.CaptureTelemetryQuery{
		CaptureSessionID: capture.ID,
		SensorIDs:        q.SensorIDs,
		SinceID:          q.SinceID,
		Limit:            limit,
		IncludeLate:      q.IncludeLate,
		Asc:              !q.Desc,
	})
	if err != nil {
		return Page{}, err
	}
	return newPage(items, limit), nil
}

func (s *QueryService) BySensor(ctx context.Context, projectID string, q SensorQuery) (Page, error) {
	if s == nil || s.Repo == nil {
		return Page{}, repository.ErrUnavailable
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return Page{}, apperr.Validation(ReasonInvalidQuery, "to must not be before from")
	}
	limit, err := s.limit(q.Limit)
	if err != nil {
		return Page{}, err
	}
	if err := s.checkSensor(ctx, projectID, q.SensorID); err != nil {
		return Page{}, err
	}
	items, err := s.Repo.QuerySensorTelemetry(ctx, repository.SensorTelemetryQuery{
		SensorID: q.SensorID,
		Signal:   q.Signal,
		From:     q.From,
		To:       q.To,
		Limit:    limit,
		Asc:      !q.Desc,
	})
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []models.TelemetryRecord{}
	}
	return Page{Points: items}, nil
}

// Rollups defaults to the last hour when no range is given.
func (s *QueryService) Rollups(ctx context.Context, projectID string, q RollupQuery) ([]models.TelemetryRollup, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	to := s.now()
	if q.To != nil {
		to = *q.To
	}
	from := to.Add(-time.Hour)
	if q.From != nil {
		from = *q.From
	}
	if to.Before(from) {
		return nil, apperr.Validation(ReasonInvalidQuery, "to must not be before from")
	}
	limit, err := s.limit(q.Limit)
	if err != nil {
		return nil, err
	}
	if err := s.checkSensor(ctx, projectID, q.SensorID); err != nil {
		return nil, err
	}
	return s.Repo.ListRollups(ctx, repository.RollupQuery{
		SensorID: q.SensorID,
		Signal:   q.Signal,
		From:     from,
		To:       to,
		Limit:    limit,
	})
}

func (s *QueryService) Archives(ctx context.Context, projectID, sensorID string, limit, offset int) ([]models.TelemetryArchive, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	if err := s.checkSensor(ctx, projectID, sensorID); err != nil {
		return nil, err
	}
	return s.Repo.ListTelemetryArchives(ctx, sensorID, limit, offset)
}

// checkSensor hides sensors the project is not a member of behind not found.
func (s *QueryService) checkSensor(ctx context.Context, projectID, sensorID string) error {
	if sensorID == "" {
		return apperr.Validation(ReasonInvalidQuery, "sensor_id is required")
	}
	projects, err := s.Repo.ListSensorProjectIDs(ctx, sensorID)
	if err != nil {
		return err
	}
	if !slices.Contains(projects, projectID) {
		return apperr.NotFound("sensor")
	}
	return nil
}

func (s *QueryService) limit(requested int) (int, error) {
	def := s.Config.QueryDefaultLimit
	if def <= 0 {
		def = 2000
	}
	ceiling := s.Config.QueryMaxLimit
	if ceiling <= 0 {
		ceiling = 20000
	}
	switch {
	case requested == 0:
		return def, nil
	case requested < 0:
		return 0, apperr.Validation(ReasonInvalidQuery, "limit must be >= 1")
	case requested > ceiling:
		return ceiling, nil
	}
	return requested, nil
}

func (s *QueryService) maxSensors() int {
	if s.Config.QueryMaxSensors > 0 {
		return s.Config.QueryMaxSensors
	}
	return 50
}

func (s *QueryService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func newPage(items []models.TelemetryRecord, limit int) Page {
	if items == nil {
		items = []models.TelemetryRecord{}
	}
	page := Page{Points: items}
	if len(items) == limit && limit > 0 {
		next := items[len(items)-1].ID
		page.NextSinceID = &next
	}
	return page
}
