package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"experimentservice/internal/apperr"
	"experimentservice/internal/auth"
	"experimentservice/internal/repository"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func envelope(data any, meta map[string]any) apiResponse {
	return apiResponse{Code: 0, Message: "ok", Data: data, Meta: meta}
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, envelope(data, meta))
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, envelope(data, nil))
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:   http.StatusBadRequest,
	apperr.KindConflict:     http.StatusConflict,
	apperr.KindNotFound:     http.StatusNotFound,
	apperr.KindUnauthorized: http.StatusUnauthorized,
	apperr.KindForbidden:    http.StatusForbidden,
}

// Fail writes err with the status its kind maps to. Classified errors carry
// their reason (and offending ids) in meta; anything else is a storage
// failure and its text stays in the access log, not the response.
func Fail(c *gin.Context, err error) {
	if e, ok := apperr.As(err); ok {
		meta := map[string]any{"reason": e.Reason}
		if len(e.IDs) > 0 {
			meta["ids"] = e.IDs
		}
		status, ok := kindStatus[e.Kind]
		if !ok {
			status = http.StatusBadRequest
		}
		Error(c, status, e.Error(), meta)
		return
	}
	switch {
	case apperr.IsInvalidText(err):
		_ = c.Error(err)
		Error(c, http.StatusBadRequest, "malformed identifier", map[string]any{"reason": reasonInvalidID})
	case errors.Is(err, repository.ErrUnavailable):
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
	case errors.Is(err, context.DeadlineExceeded):
		Error(c, http.StatusGatewayTimeout, "storage timeout", nil)
	default:
		_ = c.Error(err)
		Error(c, http.StatusBadGateway, "storage error", nil)
	}
}

// identity returns the caller or writes 401.
func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.FromGin(c)
	if !ok || id.ProjectID == "" {
		Error(c, http.StatusUnauthorized, "missing identity", nil)
		return auth.Identity{}, false
	}
	return id, true
}
