package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-payments/internal/webhook"
)

const defaultDedupPrefix = "paygate:webhook:"

var _ webhook.DedupStore = (*Dedup)(nil)

// Dedup claims webhook event ids with SET NX so a claim is visible to every
// instance.
type Dedup struct {
	client *redis.Client
	prefix string
}

// NewDedup creates a Dedup storing claims under prefix.
func NewDedup(client *redis.Client, prefix string) *Dedup {
	if prefix == "" {
		prefix = defaultDedupPrefix
	}
	return &Dedup{client: client, prefix: prefix}
}

func (d *Dedup) key(gateway, eventID string) string {
	return d.prefix + gateway + ":" + eventID
}

func (d *Dedup) Claim(ctx context.Context, gateway, eventID string, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(gateway, eventID), time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "claim event")
	}
	return ok, nil
}

func (d *Dedup) Release(ctx context.Context, gateway, eventID string) error {
	if err := d.client.Del(ctx, d.key(gateway, eventID)).Err(); err != nil {
		return errors.Wrap(err, "release event")
	}
	return nil
}
