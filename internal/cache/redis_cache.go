package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const eventKeyPrefix = "webhook:processed:"

type RedisEventCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisEventCache(client *redis.Client) *RedisEventCache {
	return &RedisEventCache{client: client}
}

func (c *RedisEventCache) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.client.Exists(ctx, eventKeyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisEventCache) Remember(ctx context.Context, eventID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return c.client.Set(ctx, eventKeyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), ttl).Err()
}
