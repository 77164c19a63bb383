package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"experimentservice/internal/auth"
	"experimentservice/internal/idempotency"
	"experimentservice/internal/repository"
	"experimentservice/internal/service"
)

type WebhookHandler struct {
	Service *service.WebhookService
	Idem    *idempotency.Guard
}

// Register mounts subscription and delivery management for owners and editors.
func (h *WebhookHandler) Register(r gin.IRouter) {
	group := r.Group("/webhooks", auth.RequireRole(auth.RoleOwner, auth.RoleEditor))
	group.POST("", h.create)
	group.GET("", h.list)
	group.GET("/deliveries", h.listDeliveries)
	group.POST("/deliveries/:id/retry", h.retry)
	group.GET("/:id", h.get)
	group.DELETE("/:id", h.delete)
}

// @Summary Create webhook subscription
// @Tags webhooks
// @Accept json
// @Param body body service.CreateWebhookInput true "subscription"
// @Success 201 {object} apiResponse
// @Failure 403 {object} apiResponse
// @Router /api/v1/webhooks [post]
func (h *WebhookHandler) create(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.CreateWebhookInput
	body, ok := readJSON(c, &in)
	if !ok {
		return
	}
	mutate(c, h.Idem, http.StatusCreated, body, func(ctx context.Context) (any, error) {
		return h.Service.Create(ctx, id, in)
	})
}

// @Summary List webhook subscriptions
// @Tags webhooks
// @Success 200 {object} apiResponse
// @Router /api/v1/webhooks [get]
func (h *WebhookHandler) list(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	limit, offset := listWindow(c)
	items, total, err := h.Service.List(c.Request.Context(), repository.ListWebhookSubscriptionsParams{
		Limit:     limit,
		Offset:    offset,
		ProjectID: id.ProjectID,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get webhook subscription
// @Tags webhooks
// @Param id path string true "subscription id"
// @Success 200 {object} apiResponse
// @Router /api/v1/webhooks/{id} [get]
func (h *WebhookHandler) get(c *gin.Context) {
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

// @Summary Delete webhook subscription
// @Tags webhooks
// @Param id path string true "subscription id"
// @Success 200 {object} apiResponse
// @Router /api/v1/webhooks/{id} [delete]
func (h *WebhookHandler) delete(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	subID := c.Param("id")
	mutate(c, h.Idem, http.StatusOK, nil, func(ctx context.Context) (any, error) {
		if err := h.Service.Delete(ctx, id.ProjectID, subID); err != nil {
			return nil, err
		}
		return gin.H{"id": subID, "deleted": true}, nil
	})
}

// @Summary List webhook deliveries
// @Tags webhooks
// @Param status query string false "pending|in_progress|succeeded|failed"
// @Param subscription_id query string false "subscription id"
// @Param event_id query string false "audit event id"
// @Success 200 {object} apiResponse
// @Router /api/v1/webhooks/deliveries [get]
func (h *WebhookHandler) listDeliveries(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	subID, eventID := strQueryPtr(c, "subscription_id"), strQueryPtr(c, "event_id")
	if err := checkUUIDPtr("subscription_id", subID); err != nil {
		Fail(c, err)
		return
	}
	if err := checkUUIDPtr("event_id", eventID); err != nil {
		Fail(c, err)
		return
	}
	limit, offset := listWindow(c)
	items, total, err := h.Service.ListDeliveries(c.Request.Context(), repository.ListWebhookDeliveriesParams{
		Limit:          limit,
		Offset:         offset,
		ProjectID:      id.ProjectID,
		SubscriptionID: subID,
		Status:         strQueryPtr(c, "status"),
		EventID:        eventID,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Retry a failed delivery
// @Description Resets the delivery to pending with zero attempts.
// @Tags webhooks
// @Param id path string true "delivery id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/webhooks/deliveries/{id}/retry [post]
func (h *WebhookHandler) retry(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	deliveryID := c.Param("id")
	mutate(c, h.Idem, http.StatusOK, nil, func(ctx context.Context) (any, error) {
		return h.Service.Retry(ctx, id.ProjectID, deliveryID)
	})
}
