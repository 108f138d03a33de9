package storage

import (
	"context"
	"fmt"

	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/services/notifier-service/internal/webhook"
)

type WebhookRepository struct {
	pool *db.Pool
}

func NewWebhookRepository(pool *db.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

// SubscriptionsForEvent returns enabled subscriptions whose event filter
// includes eventType. An empty filter means all events.
func (r *WebhookRepository) SubscriptionsForEvent(ctx context.Context, eventType string) ([]webhook.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, url, secret
		FROM webhook_subscriptions
		WHERE enabled
		  AND (cardinality(event_types) = 0 OR $1 = ANY(event_types))
		ORDER BY created_at ASC
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("query webhook subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []webhook.Subscription
	for rows.Next() {
		var s webhook.Subscription
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret); err != nil {
			return nil, fmt.Errorf("scan webhook subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *WebhookRepository) RecordDelivery(ctx context.Context, d webhook.Delivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (subscription_id, event_id, event_type, status_code, error)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, d.SubscriptionID, d.EventID, d.EventType, d.StatusCode, d.Error)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}
