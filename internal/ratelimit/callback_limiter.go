package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/matinoplay/billing/internal/config"
)

// CallbackLimiter guards the partner callback endpoints. Without a
// configured redis it allows everything; redis errors fail open so a cache
// outage never blocks billing traffic.
type CallbackLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	logger *zap.Logger
}

func NewCallbackLimiter(cfg config.Config, logger *zap.Logger) *CallbackLimiter {
	limiter := &CallbackLimiter{
		rate:   cfg.CallbackRate,
		burst:  cfg.CallbackBurst,
		logger: logger.Named("ratelimit"),
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter.bucket = NewTokenBucket(client)
	}
	return limiter
}

// NewCallbackLimiterWithBucket wires an existing bucket, used by tests.
func NewCallbackLimiterWithBucket(bucket *TokenBucket, rate float64, burst int, logger *zap.Logger) *CallbackLimiter {
	return &CallbackLimiter{bucket: bucket, rate: rate, burst: burst, logger: logger}
}

func (l *CallbackLimiter) Allow(ctx context.Context, key string) bool {
	if l.bucket == nil {
		return true
	}
	res, err := l.bucket.Allow(ctx, "callback:"+key, l.rate, l.burst)
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing", zap.Error(err))
		return true
	}
	return res.Allowed
}
