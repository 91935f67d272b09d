package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"posledger/internal/domain"
)

const accountKeyPrefix = "posledger:account:"

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisAccountCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisAccountCache(client redis.UniversalClient, ttl time.Duration) *RedisAccountCache {
	return &RedisAccountCache{client: client, ttl: ttl}
}

func (c *RedisAccountCache) Get(ctx context.Context, id string) (*domain.Account, bool, error) {
	val, err := c.client.Get(ctx, accountKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var acc domain.Account
	if err := json.Unmarshal(val, &acc); err != nil {
		return nil, false, err
	}
	return &acc, true, nil
}

func (c *RedisAccountCache) Set(ctx context.Context, account domain.Account) error {
	payload, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, accountKeyPrefix+account.ID, payload, c.ttl).Err()
}

func (c *RedisAccountCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, accountKeyPrefix+id).Err()
}
