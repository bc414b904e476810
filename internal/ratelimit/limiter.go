// Package ratelimit hands out one token bucket per key.
package ratelimit

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type Config struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		BurstSize:         20,
	}
}

type KeyedLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	defaults Config
}

func NewKeyedLimiter(cfg Config) *KeyedLimiter {
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		cfg = DefaultConfig()
	}
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		defaults: cfg,
	}
}

func (l *KeyedLimiter) GetLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists = l.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.defaults.RequestsPerSecond), l.defaults.BurstSize)
	l.limiters[key] = limiter
	return limiter
}

func (l *KeyedLimiter) Allow(key string) bool {
	return l.GetLimiter(key).Allow()
}

// Middleware rejects requests over the per-client-IP budget with 429.
func (l *KeyedLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
