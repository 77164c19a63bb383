// Package webhook implements the transactional outbox for domain events and
// the dispatcher that delivers it.
package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"experimentservice/internal/audit"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

// Payload is the JSON body POSTed to subscribers.
type Payload struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	OccurredAt time.Time      `json:"occurred_at"`
	ProjectID  string         `json:"project_id"`
	Entity     Entity         `json:"entity"`
	Payload    map[string]any `json:"payload"`
}

type Entity struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Producer inserts one pending delivery per matching active subscription. It
// never touches the network.
type Producer struct {
	Repo repository.WebhookRepository
}

var _ audit.Emitter = (*Producer)(nil)

func (p *Producer) EmitTx(ctx context.Context, tx *gorm.DB, events []audit.Event) error {
	if p == nil || p.Repo == nil {
		return nil
	}
	type subKey struct{ project, eventType string }
	subs := map[subKey][]models.WebhookSubscription{}

	var rows []models.WebhookDelivery
	for _, ev := range events {
		key := subKey{ev.ProjectID, ev.Type}
		matching, ok := subs[key]
		if !ok {
			var err error
			matching, err = p.Repo.ListMatchingSubscriptionsTx(ctx, tx, ev.ProjectID, ev.Type)
			if err != nil {
				return err
			}
			subs[key] = matching
		}
		if len(matching) == 0 {
			continue
		}
		body, err := json.Marshal(Payload{
			EventID:    ev.ID,
			EventType:  ev.Type,
			OccurredAt: ev.OccurredAt,
			ProjectID:  ev.ProjectID,
			Entity:     Entity{Kind: ev.EntityKind, ID: ev.EntityID},
			Payload:    ev.Payload,
		})
		if err != nil {
			return err
		}
		for _, sub := range matching {
			rows = append(rows, models.WebhookDelivery{
				ID:             uuid.NewString(),
				SubscriptionID: sub.ID,
				ProjectID:      ev.ProjectID,
				EventID:        ev.ID,
				EventType:      ev.Type,
				TargetURL:      sub.TargetURL,
				Secret:         sub.Secret,
				Payload:        datatypes.JSON(body),
				Status:         models.DeliveryPending,
				AttemptCount:   0,
				NextAttemptAt:  ev.OccurredAt,
			})
		}
	}
	return p.Repo.InsertWebhookDeliveriesTx(ctx, tx, rows)
}
