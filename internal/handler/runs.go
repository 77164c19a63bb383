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

type RunHandler struct {
	Service *service.RunService
	Events  *service.EventService
	Idem    *idempotency.Guard
}

func (h *RunHandler) Register(r gin.IRouter) {
	group := r.Group("/runs")
	group.POST("", h.create)
	group.GET("", h.list)
	group.POST("/batch-status", h.batchStatus)
	group.POST("/bulk-tags", h.bulkTags)
	group.GET("/:id", h.get)
	group.PATCH("/:id", h.update)
	group.GET("/:id/events", h.events)
}

var runOrder = map[string]string{
	"created_at":  "created_at",
	"updated_at":  "updated_at",
	"started_at":  "started_at",
	"finished_at": "finished_at",
	"status":      "status",
}

// @Summary Create run
// @Tags runs
// @Accept json
// @Param Idempotency-Key header string false "replay protection key"
// @Param body body service.CreateRunInput true "run"
// @Success 201 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/runs [post]
func (h *RunHandler) create(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.CreateRunInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	mutate(c, h.Idem, http.StatusCreated, body, func(ctx context.Context) (any, error) {
		return h.Service.Create(ctx, id, in)
	})
}

// @Summary List runs
// @Tags runs
// @Param experiment_id query string false "experiment filter"
// @Param status query string false "status filter"
// @Param tag query string false "tag filter"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/runs [get]
func (h *RunHandler) list(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	limit, offset := listWindow(c)
	items, total, err := h.Service.List(c.Request.Context(), repository.ListRunsParams{
		Limit:        limit,
		Offset:       offset,
		ProjectID:    id.ProjectID,
		ExperimentID: strQueryPtr(c, "experiment_id"),
		Status:       statusQueryPtr(c),
		Tag:          strQueryPtr(c, "tag"),
		OrderBy:      parseOrder(c.Query("order_by"), runOrder),
		Asc:          boolQueryPtr(c, "asc"),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get run
// @Tags runs
// @Param id path string true "run id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/runs/{id} [get]
func (h *RunHandler) get(c *gin.Context) {
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

// @Summary Update run
// @Tags runs
// @Accept json
// @Param id path string true "run id"
// @Param Idempotency-Key header string false "replay protection key"
// @Param body body service.UpdateRunInput true "changes"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/runs/{id} [patch]
func (h *RunHandler) update(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.UpdateRunInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	runID := c.Param("id")
	mutate(c, h.Idem, http.StatusOK, body, func(ctx context.Context) (any, error) {
		return h.Service.Update(ctx, id, runID, in)
	})
}

// @Summary Move runs to one status
// @Description Every run is checked first; one violation rejects the whole batch with the offending ids in meta.ids.
// @Tags runs
// @Accept json
// @Param Idempotency-Key header string false "replay protection key"
// @Param body body service.BatchStatusInput true "run ids and status"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/runs/batch-status [post]
func (h *RunHandler) batchStatus(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.BatchStatusInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	if err := checkUUIDs("run_ids", in.RunIDs...); err != nil {
		Fail(c, err)
		return
	}
	mutate(c, h.Idem, http.StatusOK, body, func(ctx context.Context) (any, error) {
		return h.Service.BatchStatus(ctx, id, in)
	})
}

// @Summary Add, remove or replace tags on runs
// @Tags runs
// @Accept json
// @Param Idempotency-Key header string false "replay protection key"
// @Param body body service.BulkTagsInput true "run ids, op and tags"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/runs/bulk-tags [post]
func (h *RunHandler) bulkTags(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.BulkTagsInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	if err := checkUUIDs("run_ids", in.RunIDs...); err != nil {
		Fail(c, err)
		return
	}
	mutate(c, h.Idem, http.StatusOK, body, func(ctx context.Context) (any, error) {
		return h.Service.BulkTags(ctx, id, in)
	})
}

// @Summary Run audit events
// @Tags runs
// @Param id path string true "run id"
// @Success 200 {object} apiResponse
// @Router /api/v1/runs/{id}/events [get]
func (h *RunHandler) events(c *gin.Context) {
	listEvents(c, h.Events, lifecycle.KindRun, c.Param("id"))
}
