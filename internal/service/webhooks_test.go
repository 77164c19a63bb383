package service

import (
	"context"
	"testing"

	"experimentservice/internal/apperr"
	"experimentservice/internal/audit"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

func TestCreateWebhookValidates(t *testing.T) {
	repo := newMemRepo()
	svc := &WebhookService{Repo: repo}
	ctx := context.Background()
	cases := []CreateWebhookInput{
		{TargetURL: "ftp://example.com/hook", EventTypes: []string{audit.RunCreated}},
		{TargetURL: "/relative", EventTypes: []string{audit.RunCreated}},
		{TargetURL: "https://example.com/hook"},
		{TargetURL: "https://example.com/hook", EventTypes: []string{"run.exploded"}},
	}
	for i, in := range cases {
		_, err := svc.Create(ctx, editor, in)
		if !apperr.IsKind(err, apperr.KindValidation) {
			t.Fatalf("case %d err=%v want validation", i, err)
		}
	}

	secret := " s3cret "
	item, err := svc.Create(ctx, editor, CreateWebhookInput{
		TargetURL:  "https://example.com/hook",
		EventTypes: []string{audit.RunStatusChanged, audit.RunCreated, audit.RunCreated},
		Secret:     &secret,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if string(item.EventTypes) != `["run.created","run.status_changed"]` {
		t.Fatalf("event_types=%s", item.EventTypes)
	}
	if item.Secret == nil || *item.Secret != "s3cret" || !item.IsActive {
		t.Fatalf("item=%+v", item)
	}
}

func TestRetryOnlyFailedDeliveries(t *testing.T) {
	repo := newMemRepo()
	repo.subs = []models.WebhookSubscription{{ID: "s1", ProjectID: projectA, IsActive: true}}
	repo.deliveries["d1"] = models.WebhookDelivery{ID: "d1", SubscriptionID: "s1", ProjectID: projectA, Status: models.DeliveryFailed, AttemptCount: 8}
	repo.deliveries["d2"] = models.WebhookDelivery{ID: "d2", SubscriptionID: "s1", ProjectID: projectA, Status: models.DeliverySucceeded}
	svc := &WebhookService{Repo: repo}
	ctx := context.Background()

	item, err := svc.Retry(ctx, projectA, "d1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if item.Status != models.DeliveryPending || item.AttemptCount != 0 {
		t.Fatalf("item=%+v", item)
	}

	_, err = svc.Retry(ctx, projectA, "d2")
	requireReason(t, err, apperr.KindConflict, ReasonDeliveryNotFailed)

	_, err = svc.Retry(ctx, projectB, "d1")
	requireReason(t, err, apperr.KindNotFound, "webhook_delivery_not_found")
}

func TestDeleteSubscriptionKeepsDeliveries(t *testing.T) {
	repo := newMemRepo()
	repo.subs = []models.WebhookSubscription{{ID: "s1", ProjectID: projectA, IsActive: true}}
	repo.deliveries["d1"] = models.WebhookDelivery{ID: "d1", SubscriptionID: "s1", ProjectID: projectA, Status: models.DeliveryFailed, AttemptCount: 5}
	repo.deliveries["d2"] = models.WebhookDelivery{ID: "d2", SubscriptionID: "s1", ProjectID: projectA, Status: models.DeliveryPending}
	svc := &WebhookService{Repo: repo}
	ctx := context.Background()

	if err := svc.Delete(ctx, projectA, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, projectA, "s1"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("get after delete err=%v want not found", err)
	}
	err := svc.Delete(ctx, projectA, "s1")
	requireReason(t, err, apperr.KindNotFound, "webhook_subscription_not_found")

	subID := "s1"
	items, total, err := svc.ListDeliveries(ctx, repository.ListWebhookDeliveriesParams{ProjectID: projectA, SubscriptionID: &subID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("deliveries=%d total=%d want=2", len(items), total)
	}
	if repo.deliveries["d2"].Status != models.DeliveryFailed {
		t.Fatalf("pending delivery status=%s want=failed", repo.deliveries["d2"].Status)
	}

	_, err = svc.Retry(ctx, projectA, "d1")
	requireReason(t, err, apperr.KindConflict, ReasonSubscriptionDeleted)
}
