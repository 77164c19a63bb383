package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"experimentservice/internal/apperr"
	"experimentservice/internal/audit"
	"experimentservice/internal/auth"
	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
	"experimentservice/internal/telemetry"
)

const (
	ReasonVersionTaken   = "version_taken"
	ReasonProfileActive  = "active_profile_exists"
	profileVersionIndex  = "ux_conversion_profiles_sensor_version"
	profileActiveIndex   = "ux_conversion_profiles_sensor_active"
	maxProfileVersionLen = 64
)

type ProfileService struct {
	Repo  repository.Repository
	Audit *audit.Recorder
	Now   func() time.Time
}

type CreateProfileInput struct {
	Version   string           `json:"version"`
	Kind      string           `json:"kind"`
	Payload   json.RawMessage  `json:"payload" swaggertype:"object"`
	Status    lifecycle.Status `json:"status"`
	ValidFrom *time.Time       `json:"valid_from"`
	ValidTo   *time.Time       `json:"valid_to"`
}

type PublishProfileInput struct {
	ValidFrom *time.Time `json:"valid_from"`
}

func (in *CreateProfileInput) validate() error {
	in.Version = strings.TrimSpace(in.Version)
	if in.Version == "" {
		return apperr.Validation(ReasonInvalidInput, "version is required")
	}
	if len(in.Version) > maxProfileVersionLen {
		return apperr.Validation(ReasonInvalidInput, "version must be at most %d characters", maxProfileVersionLen)
	}
	switch in.Status {
	case "":
		in.Status = lifecycle.StatusDraft
	case lifecycle.StatusDraft, lifecycle.StatusScheduled:
	default:
		return apperr.Validation(lifecycle.ReasonUnknownStatus, "profiles are created as draft or scheduled, got %q", in.Status)
	}
	if in.ValidFrom != nil && in.ValidTo != nil && !in.ValidTo.After(*in.ValidFrom) {
		return apperr.Validation(ReasonInvalidInput, "valid_to must be after valid_from")
	}
	return telemetry.ValidatePayload(in.Kind, in.Payload)
}

func (s *ProfileService) Create(ctx context.Context, id auth.Identity, sensorID string, in CreateProfileInput) (*models.ConversionProfile, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out *models.ConversionProfile
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		sensor, err := s.lockSensor(ctx, tx, id, sensorID)
		if err != nil {
			return err
		}
		out, err = s.createTx(ctx, tx, id, sensor, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ProfileService) createTx(ctx context.Context, tx *gorm.DB, id auth.Identity, sensor *models.Sensor, in CreateProfileInput) (*models.ConversionProfile, error) {
	if sensor.Status == lifecycle.StatusDecommissioned {
		return nil, apperr.Conflict(lifecycle.ReasonInvalidTransition, "sensor is decommissioned")
	}
	item := &models.ConversionProfile{
		ID:        newID(),
		SensorID:  sensor.ID,
		ProjectID: sensor.ProjectID,
		Version:   in.Version,
		Kind:      in.Kind,
		Payload:   datatypes.JSON(in.Payload),
		Status:    in.Status,
		ValidFrom: in.ValidFrom,
		ValidTo:   in.ValidTo,
		CreatedBy: id.UserID,
	}
	if err := s.Repo.CreateConversionProfileTx(ctx, tx, item); err != nil {
		if apperr.IsUniqueViolation(err, profileVersionIndex) {
			return nil, apperr.Conflict(ReasonVersionTaken, "version %q already exists for this sensor", item.Version)
		}
		return nil, err
	}
	err := s.Audit.RecordTx(ctx, tx, profileEvent(id, item, audit.ProfileCreated, map[string]any{
		"sensor_id": item.SensorID, "version": item.Version, "kind": item.Kind, "status": item.Status,
	}))
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *ProfileService) List(ctx context.Context, projectID string, params repository.ListConversionProfilesParams) ([]models.ConversionProfile, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, repository.ErrUnavailable
	}
	sensor, err := s.Repo.GetSensor(ctx, projectID, params.SensorID)
	if err != nil {
		return nil, 0, err
	}
	if sensor == nil {
		return nil, 0, apperr.NotFound("sensor")
	}
	if params.Status != nil && !lifecycle.Valid(lifecycle.KindConversionProfile, *params.Status) {
		return nil, 0, apperr.Validation(lifecycle.ReasonUnknownStatus, "unknown conversion profile status %q", *params.Status)
	}
	items, err := s.Repo.ListConversionProfiles(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountConversionProfiles(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Publish makes profileID the sensor's active profile. The previous active
// profile is deprecated with valid_to set to the new profile's valid_from.
func (s *ProfileService) Publish(ctx context.Context, id auth.Identity, sensorID, profileID string, in PublishProfileInput) (*models.ConversionProfile, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	var out *models.ConversionProfile
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		sensor, err := s.lockSensor(ctx, tx, id, sensorID)
		if err != nil {
			return err
		}
		if sensor.Status == lifecycle.StatusDecommissioned {
			return apperr.Conflict(lifecycle.ReasonInvalidTransition, "sensor is decommissioned")
		}
		profile, err := s.Repo.GetConversionProfileForUpdateTx(ctx, tx, sensor.ID, profileID)
		if err != nil {
			return err
		}
		if profile == nil {
			return apperr.NotFound("conversion_profile")
		}
		out = profile
		return s.publishTx(ctx, tx, id, sensor, profile, in.ValidFrom)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ProfileService) publishTx(ctx context.Context, tx *gorm.DB, id auth.Identity, sensor *models.Sensor, profile *models.ConversionProfile, validFrom *time.Time) error {
	from := profile.Status
	decision := lifecycle.CanTransition(lifecycle.KindConversionProfile, from, lifecycle.StatusActive, lifecycle.Context{})
	if err := decision.Err(lifecycle.KindConversionProfile, from, lifecycle.StatusActive); err != nil {
		return err
	}
	if decision.Noop {
		return nil
	}
	start := clock(s.Now)
	switch {
	case validFrom != nil:
		start = validFrom.UTC()
	case profile.ValidFrom != nil:
		start = profile.ValidFrom.UTC()
	}
	if profile.ValidTo != nil && !profile.ValidTo.After(start) {
		return apperr.Validation(ReasonInvalidInput, "valid_to must be after valid_from")
	}

	var events []audit.Event
	prev, err := s.Repo.GetActiveConversionProfileTx(ctx, tx, sensor.ID)
	if err != nil {
		return err
	}
	if prev != nil && prev.ID != profile.ID {
		prev.Status = lifecycle.StatusDeprecated
		if prev.ValidTo == nil || prev.ValidTo.After(start) {
			end := start
			prev.ValidTo = &end
		}
		// the partial unique index on active profiles needs this row written first
		if err := s.Repo.UpdateConversionProfileTx(ctx, tx, prev); err != nil {
			return err
		}
		events = append(events, profileEvent(id, prev, audit.ProfileDeprecated, map[string]any{
			"sensor_id": prev.SensorID, "version": prev.Version, "superseded_by": profile.ID,
		}))
	}

	profile.Status = lifecycle.StatusActive
	profile.ValidFrom = &start
	if id.UserID != "" {
		publisher := id.UserID
		profile.PublishedBy = &publisher
	}
	if err := s.Repo.UpdateConversionProfileTx(ctx, tx, profile); err != nil {
		if apperr.IsUniqueViolation(err, profileActiveIndex) {
			return apperr.Conflict(ReasonProfileActive, "another profile was published concurrently, retry")
		}
		return err
	}
	sensor.ActiveProfileID = &profile.ID
	if err := s.Repo.UpdateSensorTx(ctx, tx, sensor); err != nil {
		return err
	}
	events = append(events, profileEvent(id, profile, audit.ProfilePublished, map[string]any{
		"sensor_id": profile.SensorID, "version": profile.Version, "from": from, "valid_from": start,
	}))
	return s.Audit.RecordTx(ctx, tx, events...)
}

// Deprecate retires a profile. Deprecating the active profile leaves the
// sensor without conversion until another one is published.
func (s *ProfileService) Deprecate(ctx context.Context, id auth.Identity, sensorID, profileID string) (*models.ConversionProfile, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	var out *models.ConversionProfile
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		sensor, err := s.lockSensor(ctx, tx, id, sensorID)
		if err != nil {
			return err
		}
		profile, err := s.Repo.GetConversionProfileForUpdateTx(ctx, tx, sensor.ID, profileID)
		if err != nil {
			return err
		}
		if profile == nil {
			return apperr.NotFound("conversion_profile")
		}
		out = profile
		from := profile.Status
		decision := lifecycle.CanTransition(lifecycle.KindConversionProfile, from, lifecycle.StatusDeprecated, lifecycle.Context{})
		if err := decision.Err(lifecycle.KindConversionProfile, from, lifecycle.StatusDeprecated); err != nil {
			return err
		}
		if decision.Noop {
			return nil
		}
		now := clock(s.Now)
		profile.Status = lifecycle.StatusDeprecated
		if profile.ValidTo == nil || profile.ValidTo.After(now) {
			profile.ValidTo = &now
		}
		if err := s.Repo.UpdateConversionProfileTx(ctx, tx, profile); err != nil {
			return err
		}
		if sensor.ActiveProfileID != nil && *sensor.ActiveProfileID == profile.ID {
			sensor.ActiveProfileID = nil
			if err := s.Repo.UpdateSensorTx(ctx, tx, sensor); err != nil {
				return err
			}
		}
		return s.Audit.RecordTx(ctx, tx, profileEvent(id, profile, audit.ProfileDeprecated, map[string]any{
			"sensor_id": profile.SensorID, "version": profile.Version, "from": from,
		}))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ProfileService) lockSensor(ctx context.Context, tx *gorm.DB, id auth.Identity, sensorID string) (*models.Sensor, error) {
	sensor, err := s.Repo.GetSensorForUpdateTx(ctx, tx, id.ProjectID, sensorID)
	if err != nil {
		return nil, err
	}
	if sensor == nil {
		return nil, apperr.NotFound("sensor")
	}
	if sensor.ProjectID != id.ProjectID {
		return nil, apperr.Forbidden(ReasonSensorNotOwned, "only the owning project can change this sensor")
	}
	return sensor, nil
}

func profileEvent(id auth.Identity, item *models.ConversionProfile, typ string, payload map[string]any) audit.Event {
	return audit.Event{
		ProjectID:  item.ProjectID,
		EntityKind: string(lifecycle.KindConversionProfile),
		EntityID:   item.ID,
		Type:       typ,
		Actor:      actorOf(id),
		Payload:    payload,
	}
}
