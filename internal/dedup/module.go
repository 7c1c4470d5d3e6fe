package dedup

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/observashop/notification-service/pkg/core/health"
)

func NewDedupModule() fx.Option {
	return fx.Provide(
		newConfig,
		provideStore,
	)
}

func provideStore(lc fx.Lifecycle, log *zap.Logger, conf Config, readiness health.ComponentManager) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:        conf.Addr,
		Password:    conf.Password,
		DB:          conf.DB,
		DialTimeout: conf.ConnectTimeout,
	})
	store := NewStore(client, conf, log.With(zap.String("component", "dedup-store")))

	markReady := readiness.AddComponent("redis")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				// Redis is an optimization, not a dependency. Start
				// anyway and let lookups fail open.
				log.Warn("redis is unreachable, deduplication is degraded", zap.Error(err))
			}
			markReady()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return store
}
