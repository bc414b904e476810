package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "cache:search:JFK:LAX:2024-01-15:-:1:ow", searchKey("JFK:LAX:2024-01-15:-:1:ow"))
	assert.Equal(t, "lock:finalize:cs_test_1", finalizeLockKey("cs_test_1"))
}

func TestRedisCache_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisCacheWithClient(client, time.Minute)
	defer c.Close()

	ctx := context.Background()
	_, err := c.GetSearch(ctx, "k")
	assert.Error(t, err)

	_, err = c.AcquireFinalizeLock(ctx, "cs_test_1", time.Second)
	assert.Error(t, err)
}
