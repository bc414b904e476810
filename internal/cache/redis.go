package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Domenick1991/aimtravel/config"
	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SearchEntry is the unpaginated result of one search, as cached.
type SearchEntry struct {
	Outbound []domain.TicketOffer `json:"outbound"`
	Return   []domain.TicketOffer `json:"return"`
}

type RedisCache struct {
	client    redis.UniversalClient
	searchTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, searchTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(
		redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		searchTTL,
	)
}

func NewRedisCacheWithClient(client redis.UniversalClient, searchTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, searchTTL: searchTTL}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetSearch returns nil, nil on a miss.
func (c *RedisCache) GetSearch(ctx context.Context, key string) (*SearchEntry, error) {
	data, err := c.client.Get(ctx, searchKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var entry SearchEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *RedisCache) SetSearch(ctx context.Context, key string, entry *SearchEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, searchKey(key), payload, c.searchTTL).Err()
}

// AcquireFinalizeLock reports false when another caller is finalizing the session.
func (c *RedisCache) AcquireFinalizeLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, finalizeLockKey(sessionID), "locked", ttl).Result()
}

func (c *RedisCache) ReleaseFinalizeLock(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, finalizeLockKey(sessionID)).Err()
}

func searchKey(key string) string {
	return "cache:search:" + key
}

func finalizeLockKey(sessionID string) string {
	return "lock:finalize:" + sessionID
}
