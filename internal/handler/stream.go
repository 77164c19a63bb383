package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"experimentservice/internal/apperr"
	"experimentservice/internal/models"
	"experimentservice/internal/telemetry"
)

const wsWriteTimeout = 5 * time.Second

// streamRequest reads the stream selection. Last-Event-ID wins over since_id
// so a reconnecting EventSource resumes where it stopped.
func streamRequest(c *gin.Context) (telemetry.StreamRequest, error) {
	req := telemetry.StreamRequest{
		SensorIDs:        splitList(c.QueryArray("sensor_id")),
		CaptureSessionID: strQueryPtr(c, "capture_session_id"),
		MaxEvents:        intQuery(c, "max_events", 0),
		IdleTimeout:      durationQuery(c, "idle_timeout"),
	}
	if err := checkUUIDs("sensor_id", req.SensorIDs...); err != nil {
		return req, err
	}
	if err := checkUUIDPtr("capture_session_id", req.CaptureSessionID); err != nil {
		return req, err
	}
	since, err := int64Query(c, "since_id")
	if err != nil {
		return req, err
	}
	req.AfterID = since
	if last := strings.TrimSpace(c.GetHeader("Last-Event-ID")); last != "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return req, apperr.Validation(telemetry.ReasonInvalidQuery, "Last-Event-ID must be a non-negative integer")
		}
		req.AfterID = n
	}
	return req, nil
}

type sseSink struct {
	c *gin.Context
}

func (s sseSink) Batch(records []models.TelemetryRecord) error {
	last := records[len(records)-1].ID
	err := sse.Encode(s.c.Writer, sse.Event{
		Id:    strconv.FormatInt(last, 10),
		Event: "telemetry",
		Data:  records,
	})
	if err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

func (s sseSink) Heartbeat() error {
	if _, err := s.c.Writer.WriteString(": ping\n\n"); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

// @Summary Live telemetry (server-sent events)
// @Description One "telemetry" event per polled batch; the event id is the last row id.
// @Tags telemetry
// @Produce text/event-stream
// @Param sensor_id query []string false "sensor id" collectionFormat(multi)
// @Param capture_session_id query string false "capture session id"
// @Param since_id query int false "resume cursor"
// @Param max_events query int false "close after this many events"
// @Param idle_timeout query string false "Go duration"
// @Success 200 {string} string "event stream"
// @Router /api/v1/telemetry/stream [get]
func (h *TelemetryHandler) streamSSE(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	req, err := streamRequest(c)
	if err != nil {
		Fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.Streamer.Authorize(ctx, id.ProjectID, req); err != nil {
		Fail(c, err)
		return
	}
	defer h.Metrics.StreamOpened("sse")()

	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	if err := h.Streamer.Run(ctx, req, sseSink{c: c}); err != nil && ctx.Err() == nil {
		_ = c.Error(err)
	}
}

type wsMessage struct {
	Type   string                   `json:"type"`
	LastID int64                    `json:"last_id,omitempty"`
	Points []models.TelemetryRecord `json:"points,omitempty"`
}

type wsSink struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (s wsSink) write(msg wsMessage) error {
	ctx, cancel := context.WithTimeout(s.ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, msg)
}

func (s wsSink) Batch(records []models.TelemetryRecord) error {
	return s.write(wsMessage{Type: "telemetry", LastID: records[len(records)-1].ID, Points: records})
}

func (s wsSink) Heartbeat() error {
	return s.write(wsMessage{Type: "heartbeat"})
}

// @Summary Live telemetry (WebSocket)
// @Description Same selection as the SSE stream; messages are JSON {type, last_id, points}.
// @Tags telemetry
// @Param sensor_id query []string false "sensor id" collectionFormat(multi)
// @Param capture_session_id query string false "capture session id"
// @Param since_id query int false "resume cursor"
// @Success 101 {string} string "switching protocols"
// @Router /api/v1/telemetry/ws [get]
func (h *TelemetryHandler) streamWS(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	req, err := streamRequest(c)
	if err != nil {
		Fail(c, err)
		return
	}
	if err := h.Streamer.Authorize(c.Request.Context(), id.ProjectID, req); err != nil {
		Fail(c, err)
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer conn.CloseNow()
	defer h.Metrics.StreamOpened("ws")()

	// The client never sends data; CloseRead cancels ctx when it disconnects.
	ctx := conn.CloseRead(c.Request.Context())
	if err := h.Streamer.Run(ctx, req, wsSink{ctx: ctx, conn: conn}); err != nil {
		_ = c.Error(err)
		conn.Close(websocket.StatusInternalError, "stream failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
