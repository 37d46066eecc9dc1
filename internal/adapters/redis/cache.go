package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/observability"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// OrderCache is an advisory read-through cache in front of the order store.
// Entries live at most ttl, which bounds how stale a door device's view can
// be. Check-in decisions must still re-read the store.
type OrderCache struct {
	cache *Cache
	store domain.OrderReader
	ttl   time.Duration
}

func NewOrderCache(cache *Cache, store domain.OrderReader, ttl time.Duration) *OrderCache {
	return &OrderCache{cache: cache, store: store, ttl: ttl}
}

func orderKey(id domain.OrderID) string {
	return "order:" + id.String()
}

func (c *OrderCache) GetOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	val, err := c.cache.client.Get(ctx, orderKey(id)).Bytes()
	if err == nil {
		var o domain.Order
		if json.Unmarshal(val, &o) == nil {
			observability.OrderCacheLookups.WithLabelValues("hit").Inc()
			return &o, nil
		}
	}
	if err != nil && err != redis.Nil {
		observability.OrderCacheLookups.WithLabelValues("error").Inc()
		return c.store.GetOrder(ctx, id)
	}
	observability.OrderCacheLookups.WithLabelValues("miss").Inc()

	o, err := c.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, *o); err != nil {
		observability.OrderCacheLookups.WithLabelValues("set_error").Inc()
	}
	return o, nil
}

func (c *OrderCache) Set(ctx context.Context, o domain.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.cache.client.Set(ctx, orderKey(o.ID), data, c.ttl).Err()
}

// Warm stores orders in one pipeline.
func (c *OrderCache) Warm(ctx context.Context, orders []domain.Order) error {
	pipe := c.cache.client.Pipeline()
	for _, o := range orders {
		data, err := json.Marshal(o)
		if err != nil {
			return err
		}
		pipe.Set(ctx, orderKey(o.ID), data, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *OrderCache) Invalidate(ctx context.Context, id domain.OrderID) error {
	return c.cache.client.Del(ctx, orderKey(id)).Err()
}
