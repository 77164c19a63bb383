package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"experimentservice/internal/idempotency"
	"experimentservice/internal/lifecycle"
	"experimentservice/internal/repository"
	"experimentservice/internal/service"
)

type SensorHandler struct {
	Service  *service.SensorService
	Profiles *service.ProfileService
	Events   *service.EventService
	Idem     *idempotency.Guard
}

func (h *SensorHandler) Register(r gin.IRouter) {
	group := r.Group("/sensors")
	group.POST("", h.register)
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.PATCH("/:id", h.update)
	group.DELETE("/:id", h.decommission)
	group.POST("/:id/rotate-token", h.rotateToken)
	group.GET("/:id/projects", h.listProjects)
	group.POST("/:id/projects/:project_id", h.addProject)
	group.DELETE("/:id/projects/:project_id", h.removeProject)
	group.GET("/:id/events", h.events)

	group.GET("/:id/conversion-profiles", h.listProfiles)
	group.POST("/:id/conversion-profiles", h.createProfile)
	group.POST("/:id/conversion-profiles/:profile_id/publish", h.publishProfile)
	group.POST("/:id/conversion-profiles/:profile_id/deprecate", h.deprecateProfile)
}

// @Summary Register sensor
// @Description The plaintext token is only returned by this call and by rotate-token.
// @Tags sensors
// @Accept json
// @Param Idempotency-Key header string false "replay protection key"
// @Param body body service.RegisterSensorInput true "sensor"
// @Success 201 {object} apiResponse
// @Router /api/v1/sensors [post]
func (h *SensorHandler) register(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.RegisterSensorInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	mutate(c, h.Idem, http.StatusCreated, body, func(ctx context.Context) (any, error) {
		return h.Service.Register(ctx, id, in)
	})
}

// @Summary List sensors visible to the project
// @Tags sensors
// @Param status query string false "status filter"
// @Success 200 {object} apiResponse
// @Router /api/v1/sensors [get]
func (h *SensorHandler) list(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	limit, offset := listWindow(c)
	items, total, err := h.Service.List(c.Request.Context(), repository.ListSensorsParams{
		Limit:     limit,
		Offset:    offset,
		ProjectID: id.ProjectID,
		Status:    statusQueryPtr(c),
		OrderBy:   parseOrder(c.Query("order_by"), map[string]string{"created_at": "created_at", "name": "name", "last_heartbeat": "last_heartbeat"}),
		Asc:       boolQueryPtr(c, "asc"),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get sensor
// @Tags sensors
// @Param id path string true "sensor id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/sensors/{id} [get]
func (h *SensorHandler) get(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	item, err := h.Service.Get(c.Request.Context(), id.ProjectID, c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Update sensor
// @Tags sensors
// @Accept json
// @Param id path string true "sensor id"
// @Param body body service.UpdateSensorInput true "changes"
// @Success 200 {object} apiResponse
// @Router /api/v1/sensors/{id} [patch]
func (h *SensorHandler) update(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.UpdateSensorInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	sensorID := c.Param("id")
	mutate(c, h.Idem, http.StatusOK, body, func(ctx context.Context) (any, error) {
		return h.Service.Update(ctx, id, sensorID, in)
	})
}

// @Summary Decommission sensor
// @Tags sensors
// @Param id path string true "sensor id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/sensors/{id} [delete]
func (h *SensorHandler) decommission(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sensorID := c.Param("id")
	mutate(c, h.Idem, http.StatusOK, nil, func(ctx context.Context) (any, error) {
		return h.Service.Decommission(ctx, id, sensorID)
	})
}

// @Summary Rotate sensor token
// @Tags sensors
// @Param id path string true "sensor id"
// @Success 200 {object} apiResponse
// @Router /api/v1/sensors/{id}/rotate-token [post]
func (h *SensorHandler) rotateToken(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sensorID := c.Param("id")
	mutate(c, h.Idem, http.StatusOK, nil, func(ctx context.Context) (any, error) {
		return h.Service.RotateToken(ctx, id, sensorID)
	})
}

// @Summary Projects sharing the sensor
// @Tags sensors
// @Param id path string true "sensor id"
// @Success 200 {object} apiResponse
// @Router /api/v1/sensors/{id}/projects [get]
func (h *SensorHandler) listProjects(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ids, err := h.Service.ProjectIDs(c.Request.Context(), id.ProjectID, c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, ids, nil)
}

// @Summary Share sensor with a project
// @Tags sensors
// @Param id path string true "sensor id"
// @Param project_id path string true "project id"
// @Success 200 {object} apiResponse
// @Router /api/v1/sensors/{id}/projects/{project_id} [post]
func (h *SensorHandler) addProject(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sensorID, projectID := c.Param("id"), c.Param("project_id")
	mutate(c, h.Idem, http.StatusOK, nil, func(ctx context.Context) (any, error) {
		if err := h.Service.AddProject(ctx, id, sensorID, projectID); err != nil {
			return nil, err
		}
		return gin.H{"sensor_id": sensorID, "project_id": projectID}, nil
	})
}

// @Summary Stop sharing sensor with a project
// @Tags sensors
// @Param id path string true "sensor id"
// @Param project_id path string true "project id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/sensors/{id}/projects/{project_id} [delete]
func (h *SensorHandler) removeProject(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sensorID, projectID := c.Param("id"), c.Param("project_id")
	mutate(c, h.Idem, http.StatusOK, nil, func(ctx context.Context) (any, error) {
		if err := h.Service.RemoveProject(ctx, id, sensorID, projectID); err != nil {
			return nil, err
		}
		return gin.H{"sensor_id": sensorID, "project_id": projectID, "removed": true}, nil
	})
}

// @Summary Sensor audit events
// @Tags sensors
// @Param id path string true "sensor id"
// @Success 200 {object} apiResponse
// @Router /api/v1/sensors/{id}/events [get]
func (h *SensorHandler) events(c *gin.Context) {
	listEvents(c, h.Events, lifecycle.KindSensor, c.Param("id"))
}

// @Summary List conversion profiles
// @Tags conversion-profiles
// @Param id path string true "sensor id"
// @Param status query string false "status filter"
// @Success 200 {object} apiResponse
// @Router /api/v1/sensors/{id}/conversion-profiles [get]
func (h *SensorHandler) listProfiles(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	limit, offset := listWindow(c)
	items, total, err := h.Profiles.List(c.Request.Context(), id.ProjectID, repository.ListConversionProfilesParams{
		Limit:    limit,
		Offset:   offset,
		SensorID: c.Param("id"),
		Status:   statusQueryPtr(c),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Create conversion profile
// @Description Kinds: linear {a, b}, polynomial {coefficients}, lookup_table {points}.
// @Tags conversion-profiles
// @Accept json
// @Param id path string true "sensor id"
// @Param body body service.CreateProfileInput true "profile"
// @Success 201 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/sensors/{id}/conversion-profiles [post]
func (h *SensorHandler) createProfile(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.CreateProfileInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	sensorID := c.Param("id")
	mutate(c, h.Idem, http.StatusCreated, body, func(ctx context.Context) (any, error) {
		return h.Profiles.Create(ctx, id, sensorID, in)
	})
}

// @Summary Publish conversion profile
// @Tags conversion-profiles
// @Accept json
// @Param id path string true "sensor id"
// @Param profile_id path string true "profile id"
// @Param body body service.PublishProfileInput false "activation time"
// @Success 200 {object} apiResponse
// @Router /api/v1/sensors/{id}/conversion-profiles/{profile_id}/publish [post]
func (h *SensorHandler) publishProfile(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.PublishProfileInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	sensorID, profileID := c.Param("id"), c.Param("profile_id")
	mutate(c, h.Idem, http.StatusOK, body, func(ctx context.Context) (any, error) {
		return h.Profiles.Publish(ctx, id, sensorID, profileID, in)
	})
}

// @Summary Deprecate conversion profile
// @Tags conversion-profiles
// @Param id path string true "sensor id"
// @Param profile_id path string true "profile id"
// @Success 200 {object} apiResponse
// @Router /api/v1/sensors/{id}/conversion-profiles/{profile_id}/deprecate [post]
func (h *SensorHandler) deprecateProfile(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sensorID, profileID := c.Param("id"), c.Param("profile_id")
	mutate(c, h.Idem, http.StatusOK, nil, func(ctx context.Context) (any, error) {
		return h.Profiles.Deprecate(ctx, id, sensorID, profileID)
	})
}
