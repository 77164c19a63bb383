package service

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"experimentservice/internal/apperr"
	"experimentservice/internal/audit"
	"experimentservice/internal/auth"
	"experimentservice/internal/lifecycle"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

const (
	ReasonSensorNotOwned  = "sensor_not_owned"
	ReasonOwningProject   = "owning_project"
	ReasonTokenCollision  = "token_collision"
	sensorTokenHashIndex  = "ux_sensors_token_hash"
	maxSensorUnitLength   = 50
	maxSensorTypeLength   = 100
	maxSensorProjectLinks = 64
)

type SensorService struct {
	Repo     repository.Repository
	Audit    *audit.Recorder
	Profiles *ProfileService
	Now      func() time.Time
}

type RegisterSensorInput struct {
	Name             string              `json:"name"`
	Type             string              `json:"type"`
	InputUnit        string              `json:"input_unit"`
	DisplayUnit      string              `json:"display_unit"`
	ProjectIDs       []string            `json:"project_ids"`
	CalibrationNotes *string             `json:"calibration_notes"`
	Profile          *CreateProfileInput `json:"conversion_profile"`
}

type UpdateSensorInput struct {
	Name             *string           `json:"name"`
	InputUnit        *string           `json:"input_unit"`
	DisplayUnit      *string           `json:"display_unit"`
	CalibrationNotes *string           `json:"calibration_notes"`
	Status           *lifecycle.Status `json:"status"`
}

// RegisteredSensor carries the plaintext token; it is never readable again.
type RegisteredSensor struct {
	Sensor  *models.Sensor            `json:"sensor"`
	Token   string                    `json:"token"`
	Profile *models.ConversionProfile `json:"conversion_profile,omitempty"`
}

func (s *SensorService) Register(ctx context.Context, id auth.Identity, in RegisterSensorInput) (*RegisteredSensor, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	name, err := cleanName("name", in.Name)
	if err != nil {
		return nil, err
	}
	typ, err := shortField("type", in.Type, maxSensorTypeLength)
	if err != nil {
		return nil, err
	}
	inputUnit, err := shortField("input_unit", in.InputUnit, maxSensorUnitLength)
	if err != nil {
		return nil, err
	}
	displayUnit, err := shortField("display_unit", in.DisplayUnit, maxSensorUnitLength)
	if err != nil {
		return nil, err
	}
	projects := uniqueIDs(in.ProjectIDs)
	if len(projects) > maxSensorProjectLinks {
		return nil, apperr.Validation(ReasonInvalidInput, "at most %d projects per sensor", maxSensorProjectLinks)
	}
	for _, pid := range projects {
		if err := requireUUID("project_ids", pid); err != nil {
			return nil, err
		}
	}
	if in.Profile != nil {
		if err := in.Profile.validate(); err != nil {
			return nil, err
		}
	}
	token, err := auth.NewSensorToken()
	if err != nil {
		return nil, err
	}

	out := &RegisteredSensor{Token: token.Plain}
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		item := &models.Sensor{
			ID:               newID(),
			ProjectID:        id.ProjectID,
			Name:             name,
			Type:             typ,
			InputUnit:        inputUnit,
			DisplayUnit:      displayUnit,
			Status:           lifecycle.StatusRegistering,
			TokenHash:        token.Hash,
			TokenPreview:     token.Preview,
			CalibrationNotes: trimmedPtr(in.CalibrationNotes),
		}
		if err := s.Repo.CreateSensorTx(ctx, tx, item, projects); err != nil {
			if apperr.IsUniqueViolation(err, sensorTokenHashIndex) {
				return apperr.Conflict(ReasonTokenCollision, "sensor token collided, retry")
			}
			return err
		}
		out.Sensor = item
		if err := s.Audit.RecordTx(ctx, tx, sensorEvent(id, item, audit.SensorRegistered, map[string]any{
			"name": item.Name, "type": item.Type, "project_ids": projects,
		})); err != nil {
			return err
		}
		if in.Profile == nil {
			return nil
		}
		// the initial profile goes live immediately
		profile, err := s.profiles().createTx(ctx, tx, id, item, *in.Profile)
		if err != nil {
			return err
		}
		if err := s.profiles().publishTx(ctx, tx, id, item, profile, nil); err != nil {
			return err
		}
		out.Profile = profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SensorService) Get(ctx context.Context, projectID, id string) (*models.Sensor, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	item, err := s.Repo.GetSensor(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperr.NotFound("sensor")
	}
	return item, nil
}

// ProjectIDs lists every project the sensor shares telemetry with.
func (s *SensorService) ProjectIDs(ctx context.Context, projectID, id string) ([]string, error) {
	if _, err := s.Get(ctx, projectID, id); err != nil {
		return nil, err
	}
	return s.Repo.ListSensorProjectIDs(ctx, id)
}

func (s *SensorService) List(ctx context.Context, params repository.ListSensorsParams) ([]models.Sensor, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, repository.ErrUnavailable
	}
	if params.Status != nil && !lifecycle.Valid(lifecycle.KindSensor, *params.Status) {
		return nil, 0, apperr.Validation(lifecycle.ReasonUnknownStatus, "unknown sensor status %q", *params.Status)
	}
	items, err := s.Repo.ListSensors(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountSensors(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *SensorService) Update(ctx context.Context, id auth.Identity, sensorID string, in UpdateSensorInput) (*models.Sensor, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	return s.mutate(ctx, id, sensorID, func(tx *gorm.DB, item *models.Sensor) ([]audit.Event, error) {
		changed := map[string]any{}
		if in.Name != nil {
			name, err := cleanName("name", *in.Name)
			if err != nil {
				return nil, err
			}
			if name != item.Name {
				item.Name = name
				changed["name"] = name
			}
		}
		if in.InputUnit != nil {
			v, err := shortField("input_unit", *in.InputUnit, maxSensorUnitLength)
			if err != nil {
				return nil, err
			}
			if v != item.InputUnit {
				item.InputUnit = v
				changed["input_unit"] = v
			}
		}
		if in.DisplayUnit != nil {
			v, err := shortField("display_unit", *in.DisplayUnit, maxSensorUnitLength)
			if err != nil {
				return nil, err
			}
			if v != item.DisplayUnit {
				item.DisplayUnit = v
				changed["display_unit"] = v
			}
		}
		if in.CalibrationNotes != nil {
			item.CalibrationNotes = trimmedPtr(in.CalibrationNotes)
			changed["calibration_notes"] = true
		}
		var events []audit.Event
		if len(changed) > 0 {
			events = append(events, sensorEvent(id, item, audit.SensorUpdated, map[string]any{"changes": changed}))
		}
		if in.Status != nil {
			ev, err := s.transition(ctx, tx, id, item, *in.Status)
			if err != nil {
				return nil, err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
		return events, nil
	})
}

// Decommission is the removal transition. It is refused while the sensor
// feeds a recording capture session.
func (s *SensorService) Decommission(ctx context.Context, id auth.Identity, sensorID string) (*models.Sensor, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	return s.mutate(ctx, id, sensorID, func(tx *gorm.DB, item *models.Sensor) ([]audit.Event, error) {
		ev, err := s.transition(ctx, tx, id, item, lifecycle.StatusDecommissioned)
		if err != nil || ev == nil {
			return nil, err
		}
		return []audit.Event{*ev}, nil
	})
}

// RotateToken replaces the sensor credential. The old token stops working
// when the transaction commits.
func (s *SensorService) RotateToken(ctx context.Context, id auth.Identity, sensorID string) (*RegisteredSensor, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	token, err := auth.NewSensorToken()
	if err != nil {
		return nil, err
	}
	item, err := s.mutate(ctx, id, sensorID, func(tx *gorm.DB, item *models.Sensor) ([]audit.Event, error) {
		if item.Status == lifecycle.StatusDecommissioned {
			return nil, apperr.Conflict(lifecycle.ReasonInvalidTransition, "sensor is decommissioned")
		}
		item.TokenHash = token.Hash
		item.TokenPreview = token.Preview
		return []audit.Event{sensorEvent(id, item, audit.SensorTokenRotated, map[string]any{"token_preview": token.Preview})}, nil
	})
	if err != nil {
		return nil, err
	}
	return &RegisteredSensor{Sensor: item, Token: token.Plain}, nil
}

func (s *SensorService) AddProject(ctx context.Context, id auth.Identity, sensorID, projectID string) error {
	if s == nil || s.Repo == nil {
		return repository.ErrUnavailable
	}
	if err := requireUUID("project_id", projectID); err != nil {
		return err
	}
	_, err := s.mutate(ctx, id, sensorID, func(tx *gorm.DB, item *models.Sensor) ([]audit.Event, error) {
		if err := s.Repo.AddSensorProjectTx(ctx, tx, item.ID, projectID); err != nil {
			return nil, err
		}
		return []audit.Event{sensorEvent(id, item, audit.SensorProjectAdded, map[string]any{"project_id": projectID})}, nil
	})
	return err
}

func (s *SensorService) RemoveProject(ctx context.Context, id auth.Identity, sensorID, projectID string) error {
	if s == nil || s.Repo == nil {
		return repository.ErrUnavailable
	}
	_, err := s.mutate(ctx, id, sensorID, func(tx *gorm.DB, item *models.Sensor) ([]audit.Event, error) {
		if projectID == item.ProjectID {
			return nil, apperr.Conflict(ReasonOwningProject, "the owning project cannot be removed from a sensor")
		}
		removed, err := s.Repo.RemoveSensorProjectTx(ctx, tx, item.ID, projectID)
		if err != nil {
			return nil, err
		}
		if !removed {
			return nil, apperr.NotFound("sensor_project")
		}
		return []audit.Event{sensorEvent(id, item, audit.SensorProjectRemoved, map[string]any{"project_id": projectID})}, nil
	})
	return err
}

// mutate locks a sensor the caller's project owns. Projects that only share
// the sensor can read it but not change it.
func (s *SensorService) mutate(
	ctx context.Context,
	id auth.Identity,
	sensorID string,
	fn func(tx *gorm.DB, item *models.Sensor) ([]audit.Event, error),
) (*models.Sensor, error) {
	var out *models.Sensor
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		item, err := s.Repo.GetSensorForUpdateTx(ctx, tx, id.ProjectID, sensorID)
		if err != nil {
			return err
		}
		if item == nil {
			return apperr.NotFound("sensor")
		}
		if item.ProjectID != id.ProjectID {
			return apperr.Forbidden(ReasonSensorNotOwned, "only the owning project can change this sensor")
		}
		events, err := fn(tx, item)
		if err != nil {
			return err
		}
		if len(events) > 0 {
			if err := s.Repo.UpdateSensorTx(ctx, tx, item); err != nil {
				return err
			}
			if err := s.Audit.RecordTx(ctx, tx, events...); err != nil {
				return err
			}
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SensorService) transition(ctx context.Context, tx *gorm.DB, id auth.Identity, item *models.Sensor, to lifecycle.Status) (*audit.Event, error) {
	from := item.Status
	var decision lifecycle.Decision
	if to == lifecycle.StatusDecommissioned {
		refs, err := s.Repo.CountActiveSessionsUsingSensorTx(ctx, tx, item.ID)
		if err != nil {
			return nil, err
		}
		decision = lifecycle.CanRemove(lifecycle.KindSensor, from, lifecycle.Context{ActiveReferences: int(refs)})
	} else {
		decision = lifecycle.CanTransition(lifecycle.KindSensor, from, to, lifecycle.Context{})
	}
	if err := decision.Err(lifecycle.KindSensor, from, to); err != nil {
		return nil, err
	}
	if decision.Noop {
		return nil, nil
	}
	item.Status = to
	typ := audit.SensorUpdated
	if to == lifecycle.StatusDecommissioned {
		typ = audit.SensorDecommissioned
	}
	ev := sensorEvent(id, item, typ, map[string]any{"from": from, "to": to})
	return &ev, nil
}

func (s *SensorService) profiles() *ProfileService {
	if s.Profiles != nil {
		return s.Profiles
	}
	return &ProfileService{Repo: s.Repo, Audit: s.Audit, Now: s.Now}
}

func shortField(field, raw string, limit int) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", apperr.Validation(ReasonInvalidInput, "%s is required", field)
	}
	if len(v) > limit {
		return "", apperr.Validation(ReasonInvalidInput, "%s must be at most %d characters", field, limit)
	}
	return v, nil
}

func sensorEvent(id auth.Identity, item *models.Sensor, typ string, payload map[string]any) audit.Event {
	return audit.Event{
		ProjectID:  item.ProjectID,
		EntityKind: string(lifecycle.KindSensor),
		EntityID:   item.ID,
		Type:       typ,
		Actor:      actorOf(id),
		Payload:    payload,
	}
}
