package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/smallbiznis/autora/internal/config"
)

// NewRedisClient returns nil when REDIS_ADDR is unset; every consumer
// treats a nil client as "guard disabled".
func NewRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

func newLimiter(cfg config.Config, client *redis.Client) *InFlightLimiter {
	return NewInFlightLimiter(client, cfg.MaxInFlight)
}

var Module = fx.Module("rate.limit",
	fx.Provide(
		NewRedisClient,
		newLimiter,
	),
)
