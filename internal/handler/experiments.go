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

type ExperimentHandler struct {
	Service *service.ExperimentService
	Events  *service.EventService
	Idem    *idempotency.Guard
}

func (h *ExperimentHandler) Register(r gin.IRouter) {
	group := r.Group("/experiments")
	group.POST("", h.create)
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.PATCH("/:id", h.update)
	group.GET("/:id/events", h.events)
}

var experimentOrder = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
	"status":     "status",
}

// @Summary Create experiment
// @Tags experiments
// @Accept json
// @Param Idempotency-Key header string false "replay protection key"
// @Param body body service.CreateExperimentInput true "experiment"
// @Success 201 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/experiments [post]
func (h *ExperimentHandler) create(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.CreateExperimentInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	mutate(c, h.Idem, http.StatusCreated, body, func(ctx context.Context) (any, error) {
		return h.Service.Create(ctx, id, in)
	})
}

// @Summary List experiments
// @Tags experiments
// @Param status query string false "status filter"
// @Param tag query string false "tag filter"
// @Param q query string false "name search"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Param order_by query string false "created_at|updated_at|name|status"
// @Param asc query bool false "ascending"
// @Success 200 {object} apiResponse
// @Router /api/v1/experiments [get]
func (h *ExperimentHandler) list(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	limit, offset := listWindow(c)
	items, total, err := h.Service.List(c.Request.Context(), repository.ListExperimentsParams{
		Limit:     limit,
		Offset:    offset,
		ProjectID: id.ProjectID,
		Status:    statusQueryPtr(c),
		Tag:       strQueryPtr(c, "tag"),
		Search:    strQueryPtr(c, "q"),
		OrderBy:   parseOrder(c.Query("order_by"), experimentOrder),
		Asc:       boolQueryPtr(c, "asc"),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get experiment
// @Tags experiments
// @Param id path string true "experiment id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/experiments/{id} [get]
func (h *ExperimentHandler) get(c *gin.Context) {
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

// @Summary Update experiment
// @Description Status changes go through the lifecycle state machine.
// @Tags experiments
// @Accept json
// @Param id path string true "experiment id"
// @Param Idempotency-Key header string false "replay protection key"
// @Param body body service.UpdateExperimentInput true "changes"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/experiments/{id} [patch]
func (h *ExperimentHandler) update(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.UpdateExperimentInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	experimentID := c.Param("id")
	mutate(c, h.Idem, http.StatusOK, body, func(ctx context.Context) (any, error) {
		return h.Service.Update(ctx, id, experimentID, in)
	})
}

// @Summary Experiment audit events
// @Tags experiments
// @Param id path string true "experiment id"
// @Success 200 {object} apiResponse
// @Router /api/v1/experiments/{id}/events [get]
func (h *ExperimentHandler) events(c *gin.Context) {
	listEvents(c, h.Events, lifecycle.KindExperiment, c.Param("id"))
}

// listEvents serves the audit trail of one entity.
func listEvents(c *gin.Context, svc *service.EventService, kind lifecycle.Kind, entityID string) {
	id, ok := identity(c)
	if !ok {
		return
	}
	limit, offset := listWindow(c)
	items, total, err := svc.List(c.Request.Context(), repository.ListAuditEventsParams{
		Limit:      limit,
		Offset:     offset,
		ProjectID:  id.ProjectID,
		EntityKind: string(kind),
		EntityID:   entityID,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
