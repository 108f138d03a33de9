package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
)

// SlotsCache keeps rendered slot listings in Redis for a short TTL. Listings
// are advisory; the booking transaction re-validates, so a briefly stale
// cache costs at worst a 409 on submit.
type SlotsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSlotsCache(client *redis.Client, ttl time.Duration) *SlotsCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SlotsCache{client: client, ttl: ttl}
}

func slotsKey(eventTypeID, fromDate, timezone string, days int) string {
	return fmt.Sprintf("slots:%s:%s:%s:%d", eventTypeID, fromDate, timezone, days)
}

func (c *SlotsCache) Get(ctx context.Context, eventTypeID, fromDate, timezone string, days int) (map[string][]availability.Slot, bool) {
	if c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, slotsKey(eventTypeID, fromDate, timezone, days)).Bytes()
	if err != nil {
		return nil, false
	}
	var slots map[string][]availability.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, false
	}
	return slots, true
}

func (c *SlotsCache) Set(ctx context.Context, eventTypeID, fromDate, timezone string, days int, slots map[string][]availability.Slot) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return
	}
	c.client.Set(ctx, slotsKey(eventTypeID, fromDate, timezone, days), raw, c.ttl)
}

// Invalidate drops every cached listing for one event type after a booking
// or schedule change.
func (c *SlotsCache) Invalidate(ctx context.Context, eventTypeID string) {
	if c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, "slots:"+eventTypeID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.client.Del(ctx, keys...)
	}
}

// ReadyCheck pings Redis for the readiness endpoint.
func ReadyCheck(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
