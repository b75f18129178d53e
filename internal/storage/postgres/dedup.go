package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-payments/internal/webhook"
)

const (
	// An expired claim is taken over by the next delivery.
	claimEventSQL = `INSERT INTO webhook_events (gateway, event_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (gateway, event_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE webhook_events.expires_at <= now()`

	releaseEventSQL = `DELETE FROM webhook_events WHERE gateway = $1 AND event_id = $2`

	purgeEventsSQL = `DELETE FROM webhook_events WHERE expires_at <= now()`
)

var _ webhook.DedupStore = (*WebhookDedup)(nil)

// WebhookDedup records delivered webhook event ids.
type WebhookDedup struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewWebhookDedup returns a WebhookDedup that uses the given pool.
func NewWebhookDedup(pool *pgxpool.Pool) *WebhookDedup {
	return &WebhookDedup{pool: pool, now: time.Now}
}

// Claim inserts the event id. It reports false when a live claim exists.
func (d *WebhookDedup) Claim(ctx context.Context, gateway, eventID string, ttl time.Duration) (bool, error) {
	tag, err := d.pool.Exec(ctx, claimEventSQL, gateway, eventID, d.now().Add(ttl))
	if err != nil {
		return false, fmt.Errorf("claiming webhook event %q: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release deletes a claim.
func (d *WebhookDedup) Release(ctx context.Context, gateway, eventID string) error {
	if _, err := d.pool.Exec(ctx, releaseEventSQL, gateway, eventID); err != nil {
		return fmt.Errorf("releasing webhook event %q: %w", eventID, err)
	}
	return nil
}

// Purge deletes expired claims and returns how many were removed.
func (d *WebhookDedup) Purge(ctx context.Context) (int64, error) {
	tag, err := d.pool.Exec(ctx, purgeEventsSQL)
	if err != nil {
		return 0, fmt.Errorf("purging webhook events: %w", err)
	}
	return tag.RowsAffected(), nil
}
