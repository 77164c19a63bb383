package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"experimentservice/internal/apperr"
	"experimentservice/internal/auth"
	"experimentservice/internal/idempotency"
	"experimentservice/internal/metrics"
	"experimentservice/internal/telemetry"
)

type TelemetryHandler struct {
	Ingest   *telemetry.IngestService
	Query    *telemetry.QueryService
	Streamer *telemetry.Streamer
	Metrics  *metrics.Metrics
	Idem     *idempotency.Guard
}

// Register mounts the telemetry routes. POST /telemetry is authenticated by
// the sensor token, not by the caller identity.
func (h *TelemetryHandler) Register(r gin.IRouter) {
	r.POST("/telemetry", h.ingest)
	r.GET("/telemetry/query", h.query)
	r.GET("/telemetry/rollups", h.rollups)
	r.GET("/telemetry/stream", h.streamSSE)
	r.GET("/telemetry/ws", h.streamWS)
	r.GET("/sensors/:id/archives", h.archives)
}

// @Summary Ingest a telemetry batch
// @Description All readings are written in one transaction or none are.
// @Tags telemetry
// @Accept json
// @Param Authorization header string true "Bearer <sensor token>"
// @Param Idempotency-Key header string false "replay protection key"
// @Param body body telemetry.Batch true "batch"
// @Success 202 {object} apiResponse
// @Failure 401 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/telemetry [post]
func (h *TelemetryHandler) ingest(c *gin.Context) {
	token := auth.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		Error(c, http.StatusUnauthorized, "missing sensor token", map[string]any{"reason": "invalid_token"})
		return
	}
	var batch telemetry.Batch
	body, ok := readJSON(c, &batch)
	if !ok {
		return
	}
	// Keys are scoped to the token hash, so a replay needs the same credentials.
	mutateAs(c, h.Idem, auth.HashToken(token), http.StatusAccepted, body, func(ctx context.Context) (any, error) {
		return h.Ingest.Ingest(ctx, token, batch)
	})
}

// @Summary Query telemetry
// @Description capture_session_id selects the session view (since_id cursor, include_late, several sensor_id values);
// @Description otherwise sensor_id with an optional from/to range is required.
// @Tags telemetry
// @Param capture_session_id query string false "capture session id"
// @Param sensor_id query []string false "sensor id" collectionFormat(multi)
// @Param since_id query int false "return rows with a larger id"
// @Param include_late query bool false "include late rows (default true)"
// @Param signal query string false "meta signal name"
// @Param from query string false "RFC 3339"
// @Param to query string false "RFC 3339"
// @Param order query string false "asc|desc"
// @Param limit query int false "row limit"
// @Success 200 {object} apiResponse
// @Router /api/v1/telemetry/query [get]
func (h *TelemetryHandler) query(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sensors := splitList(c.QueryArray("sensor_id"))
	if err := checkUUIDs("sensor_id", sensors...); err != nil {
		Fail(c, err)
		return
	}
	if captureID := c.Query("capture_session_id"); captureID != "" {
		if err := checkUUIDs("capture_session_id", captureID); err != nil {
			Fail(c, err)
			return
		}
		since, err := int64Query(c, "since_id")
		if err != nil {
			Fail(c, err)
			return
		}
		page, err := h.Query.ByCapture(c.Request.Context(), id.ProjectID, telemetry.CaptureQuery{
			CaptureSessionID: captureID,
			SensorIDs:        sensors,
			SinceID:          since,
			Limit:            intQuery(c, "limit", 0),
			IncludeLate:      boolQueryDefault(c, "include_late", true),
			Desc:             descQuery(c, false),
		})
		if err != nil {
			Fail(c, err)
			return
		}
		Ok(c, page, nil)
		return
	}
	if len(sensors) != 1 {
		Fail(c, apperr.Validation(telemetry.ReasonInvalidQuery, "exactly one sensor_id is required without capture_session_id"))
		return
	}
	from, to, err := timeRange(c)
	if err != nil {
		Fail(c, err)
		return
	}
	page, err := h.Query.BySensor(c.Request.Context(), id.ProjectID, telemetry.SensorQuery{
		SensorID: sensors[0],
		Signal:   strQueryPtr(c, "signal"),
		From:     from,
		To:       to,
		Limit:    intQuery(c, "limit", 0),
		Desc:     descQuery(c, false),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, page, nil)
}

// @Summary One-minute rollups
// @Tags telemetry
// @Param sensor_id query string true "sensor id"
// @Param signal query string false "meta signal name"
// @Param from query string false "RFC 3339, default to minus one hour"
// @Param to query string false "RFC 3339, default now"
// @Param limit query int false "bucket limit"
// @Success 200 {object} apiResponse
// @Router /api/v1/telemetry/rollups [get]
func (h *TelemetryHandler) rollups(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sensorID := c.Query("sensor_id")
	if sensorID != "" {
		if err := checkUUIDs("sensor_id", sensorID); err != nil {
			Fail(c, err)
			return
		}
	}
	from, to, err := timeRange(c)
	if err != nil {
		Fail(c, err)
		return
	}
	items, err := h.Query.Rollups(c.Request.Context(), id.ProjectID, telemetry.RollupQuery{
		SensorID: sensorID,
		Signal:   strQueryPtr(c, "signal"),
		From:     from,
		To:       to,
		Limit:    intQuery(c, "limit", 0),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, nil)
}

// @Summary Archived telemetry blobs of a sensor
// @Tags telemetry
// @Param id path string true "sensor id"
// @Success 200 {object} apiResponse
// @Router /api/v1/sensors/{id}/archives [get]
func (h *TelemetryHandler) archives(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	limit, offset := listWindow(c)
	items, err := h.Query.Archives(c.Request.Context(), id.ProjectID, c.Param("id"), limit, offset)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}

func timeRange(c *gin.Context) (from, to *time.Time, err error) {
	if from, err = timeQueryPtr(c, "from"); err != nil {
		return nil, nil, err
	}
	if to, err = timeQueryPtr(c, "to"); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}
