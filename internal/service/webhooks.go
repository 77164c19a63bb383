package service

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"experimentservice/internal/apperr"
	"experimentservice/internal/audit"
	"experimentservice/internal/auth"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
	"experimentservice/internal/webhook"
)

const (
	ReasonDeliveryNotFailed   = "delivery_not_failed"
	ReasonSubscriptionDeleted = "subscription_deleted"
	maxWebhookSecretLength    = 256
	maxWebhookURLLength       = 2048
)

type WebhookService struct {
	Repo    repository.Repository
	Secrets *webhook.SecretBox
	Now     func() time.Time
}

type CreateWebhookInput struct {
	TargetURL  string   `json:"target_url"`
	EventTypes []string `json:"event_types"`
	Secret     *string  `json:"secret"`
}

func (s *WebhookService) Create(ctx context.Context, id auth.Identity, in CreateWebhookInput) (*models.WebhookSubscription, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	target, err := webhookURL(in.TargetURL)
	if err != nil {
		return nil, err
	}
	types, err := webhookEventTypes(in.EventTypes)
	if err != nil {
		return nil, err
	}
	secret := trimmedPtr(in.Secret)
	if secret != nil && len(*secret) > maxWebhookSecretLength {
		return nil, apperr.Validation(ReasonInvalidInput, "secret must be at most %d characters", maxWebhookSecretLength)
	}
	if secret != nil {
		sealed, err := s.Secrets.Seal(*secret)
		if err != nil {
			return nil, err
		}
		secret = &sealed
	}
	item := &models.WebhookSubscription{
		ID:         newID(),
		ProjectID:  id.ProjectID,
		TargetURL:  target,
		EventTypes: tagsJSON(types),
		Secret:     secret,
		IsActive:   true,
		CreatedBy:  id.UserID,
	}
	if err := s.Repo.CreateWebhookSubscription(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *WebhookService) Get(ctx context.Context, projectID, id string) (*models.WebhookSubscription, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	item, err := s.Repo.GetWebhookSubscription(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperr.NotFound("webhook_subscription")
	}
	return item, nil
}

func (s *WebhookService) List(ctx context.Context, params repository.ListWebhookSubscriptionsParams) ([]models.WebhookSubscription, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, repository.ErrUnavailable
	}
	items, err := s.Repo.ListWebhookSubscriptions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountWebhookSubscriptions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Delete deactivates the subscription. Its deliveries, failed ones included,
// stay listable.
func (s *WebhookService) Delete(ctx context.Context, projectID, id string) error {
	if s == nil || s.Repo == nil {
		return repository.ErrUnavailable
	}
	deleted, err := s.Repo.DeleteWebhookSubscription(ctx, projectID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.NotFound("webhook_subscription")
	}
	return nil
}

func (s *WebhookService) ListDeliveries(ctx context.Context, params repository.ListWebhookDeliveriesParams) ([]models.WebhookDelivery, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, repository.ErrUnavailable
	}
	if params.Status != nil {
		switch *params.Status {
		case models.DeliveryPending, models.DeliveryInProgress, models.DeliverySucceeded, models.DeliveryFailed:
		default:
			return nil, 0, apperr.Validation(ReasonInvalidInput, "unknown delivery status %q", *params.Status)
		}
	}
	items, err := s.Repo.ListWebhookDeliveries(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountWebhookDeliveries(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Retry puts a failed delivery back in the queue with its attempts reset.
func (s *WebhookService) Retry(ctx context.Context, projectID, id string) (*models.WebhookDelivery, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	item, err := s.Repo.GetWebhookDelivery(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperr.NotFound("webhook_delivery")
	}
	if item.Status != models.DeliveryFailed {
		return nil, apperr.Conflict(ReasonDeliveryNotFailed, "delivery is %s; only failed deliveries can be retried", item.Status)
	}
	sub, err := s.Repo.GetWebhookSubscription(ctx, projectID, item.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, apperr.Conflict(ReasonSubscriptionDeleted, "the subscription of this delivery was deleted")
	}

	requeued, err := s.Repo.RequeueFailedDelivery(ctx, projectID, id, clock(s.Now))
	if err != nil {
		return nil, err
	}
	if item, err = s.Repo.GetWebhookDelivery(ctx, projectID, id); err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperr.NotFound("webhook_delivery")
	}
	if !requeued {
		return nil, apperr.Conflict(ReasonDeliveryNotFailed, "delivery is %s; only failed deliveries can be retried", item.Status)
	}
	return item, nil
}

func webhookURL(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return "", apperr.Validation(ReasonInvalidInput, "target_url is required")
	}
	if len(target) > maxWebhookURLLength {
		return "", apperr.Validation(ReasonInvalidInput, "target_url must be at most %d characters", maxWebhookURLLength)
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", apperr.Validation(ReasonInvalidInput, "target_url must be an absolute http or https url")
	}
	return target, nil
}

func webhookEventTypes(raw []string) ([]string, error) {
	types := uniqueIDs(raw)
	if len(types) == 0 {
		return nil, apperr.Validation(ReasonInvalidInput, "event_types must not be empty")
	}
	var unknown []string
	for _, t := range types {
		if !audit.KnownEventType(t) {
			unknown = append(unknown, t)
		}
	}
	if len(unknown) > 0 {
		return nil, apperr.Validation(ReasonInvalidInput, "unknown event types: %s", strings.Join(unknown, ", "))
	}
	sort.Strings(types)
	return types, nil
}
