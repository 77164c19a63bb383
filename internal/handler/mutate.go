package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"experimentservice/internal/auth"
	"experimentservice/internal/idempotency"
)

const maxBodyBytes = 16 << 20

// readJSON reads the body once so the same bytes feed the idempotency hash
// and the decoder. An empty body decodes to the zero value.
func readJSON(c *gin.Context, dst any) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid body", map[string]any{"reason": "invalid_body"})
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return body, true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		Error(c, http.StatusBadRequest, "invalid json body: "+err.Error(), map[string]any{"reason": "invalid_body"})
		return nil, false
	}
	return body, true
}

// mutate runs fn behind the idempotency guard and writes the stored bytes,
// so a replay is byte-identical to the first response.
func mutate(c *gin.Context, guard *idempotency.Guard, status int, body []byte, fn func(ctx context.Context) (any, error)) {
	id, _ := auth.FromGin(c)
	mutateAs(c, guard, id.UserID, status, body, fn)
}

// mutateAs scopes the idempotency key to principal instead of the caller
// identity; sensor ingest has no user.
func mutateAs(c *gin.Context, guard *idempotency.Guard, principal string, status int, body []byte, fn func(ctx context.Context) (any, error)) {
	req := idempotency.Request{
		Key:    c.GetHeader(idempotency.HeaderKey),
		UserID: principal,
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Body:   body,
	}
	resp, err := guard.Do(c.Request.Context(), req, func(ctx context.Context) (int, any, error) {
		data, err := fn(ctx)
		if err != nil {
			return 0, nil, err
		}
		return status, envelope(data, nil), nil
	})
	if err != nil {
		Fail(c, err)
		return
	}
	if resp.Replayed {
		c.Header(idempotency.HeaderReplayed, "true")
	}
	c.Data(resp.Status, "application/json; charset=utf-8", resp.Body)
}
