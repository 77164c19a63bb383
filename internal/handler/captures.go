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

type CaptureHandler struct {
	Service *service.CaptureService
	Events  *service.EventService
	Idem    *idempotency.Guard
}

func (h *CaptureHandler) Register(r gin.IRouter) {
	group := r.Group("/runs/:id/capture-sessions")
	group.POST("", h.create)
	group.GET("", h.list)
	group.GET("/:capture_id", h.get)
	group.PATCH("/:capture_id", h.update)
	group.DELETE("/:capture_id", h.remove)
	group.POST("/:capture_id/stop", h.stop)
	group.POST("/:capture_id/backfill/start", h.startBackfill)
	group.POST("/:capture_id/backfill/complete", h.completeBackfill)
	group.GET("/:capture_id/events", h.events)
}

// @Summary Start a capture session
// @Description Defaults to running. Only one session per project may record at a time.
// @Tags capture-sessions
// @Accept json
// @Param id path string true "run id"
// @Param Idempotency-Key header string false "replay protection key"
// @Param body body service.CreateCaptureInput false "options"
// @Success 201 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/runs/{id}/capture-sessions [post]
func (h *CaptureHandler) create(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.CreateCaptureInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	runID := c.Param("id")
	mutate(c, h.Idem, http.StatusCreated, body, func(ctx context.Context) (any, error) {
		return h.Service.Create(ctx, id, runID, in)
	})
}

// @Summary List capture sessions of a run
// @Tags capture-sessions
// @Param id path string true "run id"
// @Param status query string false "status filter"
// @Param include_archived query bool false "include archived sessions"
// @Success 200 {object} apiResponse
// @Router /api/v1/runs/{id}/capture-sessions [get]
func (h *CaptureHandler) list(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	runID := c.Param("id")
	limit, offset := listWindow(c)
	asc := boolQueryDefault(c, "asc", true)
	items, total, err := h.Service.List(c.Request.Context(), repository.ListCaptureSessionsParams{
		Limit:           limit,
		Offset:          offset,
		ProjectID:       id.ProjectID,
		RunID:           &runID,
		Status:          statusQueryPtr(c),
		IncludeArchived: boolQueryDefault(c, "include_archived", false),
		OrderBy:         "ordinal_number",
		Asc:             &asc,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get capture session
// @Tags capture-sessions
// @Param id path string true "run id"
// @Param capture_id path string true "capture session id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/runs/{id}/capture-sessions/{capture_id} [get]
func (h *CaptureHandler) get(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	item, err := h.Service.Get(c.Request.Context(), id.ProjectID, c.Param("id"), c.Param("capture_id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Update capture session
// @Tags capture-sessions
// @Accept json
// @Param id path string true "run id"
// @Param capture_id path string true "capture session id"
// @Param body body service.UpdateCaptureInput true "changes"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/runs/{id}/capture-sessions/{capture_id} [patch]
func (h *CaptureHandler) update(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.UpdateCaptureInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	runID, captureID := c.Param("id"), c.Param("capture_id")
	mutate(c, h.Idem, http.StatusOK, body, func(ctx context.Context) (any, error) {
		return h.Service.Update(ctx, id, runID, captureID, in)
	})
}

// @Summary Stop capture session
// @Tags capture-sessions
// @Accept json
// @Param id path string true "run id"
// @Param capture_id path string true "capture session id"
// @Param body body service.StopCaptureInput false "final status (default succeeded)"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/runs/{id}/capture-sessions/{capture_id}/stop [post]
func (h *CaptureHandler) stop(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.StopCaptureInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	runID, captureID := c.Param("id"), c.Param("capture_id")
	mutate(c, h.Idem, http.StatusOK, body, func(ctx context.Context) (any, error) {
		return h.Service.Stop(ctx, id, runID, captureID, in)
	})
}

// @Summary Start backfill
// @Tags capture-sessions
// @Param id path string true "run id"
// @Param capture_id path string true "capture session id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/runs/{id}/capture-sessions/{capture_id}/backfill/start [post]
func (h *CaptureHandler) startBackfill(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	body, _ := c.GetRawData()
	runID, captureID := c.Param("id"), c.Param("capture_id")
	mutate(c, h.Idem, http.StatusOK, body, func(ctx context.Context) (any, error) {
		return h.Service.StartBackfill(ctx, id, runID, captureID)
	})
}

// @Summary Complete backfill
// @Description Attaches late telemetry of the session and reports how many rows were attached.
// @Tags capture-sessions
// @Param id path string true "run id"
// @Param capture_id path string true "capture session id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/runs/{id}/capture-sessions/{capture_id}/backfill/complete [post]
func (h *CaptureHandler) completeBackfill(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	body, _ := c.GetRawData()
	runID, captureID := c.Param("id"), c.Param("capture_id")
	mutate(c, h.Idem, http.StatusOK, body, func(ctx context.Context) (any, error) {
		item, attached, err := h.Service.CompleteBackfill(ctx, id, runID, captureID)
		if err != nil {
			return nil, err
		}
		return gin.H{"capture_session": item, "attached_records": attached}, nil
	})
}

// @Summary Delete capture session
// @Tags capture-sessions
// @Param id path string true "run id"
// @Param capture_id path string true "capture session id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/runs/{id}/capture-sessions/{capture_id} [delete]
func (h *CaptureHandler) remove(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	runID, captureID := c.Param("id"), c.Param("capture_id")
	mutate(c, h.Idem, http.StatusOK, nil, func(ctx context.Context) (any, error) {
		if err := h.Service.Delete(ctx, id, runID, captureID); err != nil {
			return nil, err
		}
		return gin.H{"id": captureID, "deleted": true}, nil
	})
}

// @Summary Capture session audit events
// @Tags capture-sessions
// @Param id path string true "run id"
// @Param capture_id path string true "capture session id"
// @Success 200 {object} apiResponse
// @Router /api/v1/runs/{id}/capture-sessions/{capture_id}/events [get]
func (h *CaptureHandler) events(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if _, err := h.Service.Get(c.Request.Context(), id.ProjectID, c.Param("id"), c.Param("capture_id")); err != nil {
		Fail(c, err)
		return
	}
	listEvents(c, h.Events, lifecycle.KindCaptureSession, c.Param("capture_id"))
}
