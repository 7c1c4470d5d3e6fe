package notification

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/observashop/notification-service/pkg/core/health"
	"github.com/observashop/notification-service/pkg/events"
)

func NewNotificationModule() fx.Option {
	return fx.Options(
		fx.Provide(
			newMongoConfig,
			newSMTPConfig,
			provideStore,
			newTransport,
			events.AsHandler(newUserCreatedHandler),
			events.AsHandler(newOrderCreatedHandler),
			events.AsHandler(newPaymentFailedHandler),
			events.AsHandler(newProductBackInStockHandler),
		),
	)
}

func provideStore(lc fx.Lifecycle, log *zap.Logger, conf MongoConfig, readiness health.ComponentManager) (Store, error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(conf.URI).
		SetConnectTimeout(conf.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("create mongo client: %w", err)
	}

	markReady := readiness.AddComponent("mongo")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, conf.ConnectTimeout)
			defer cancel()
			if err := client.Ping(pingCtx, nil); err != nil {
				return fmt.Errorf("ping mongo: %w", err)
			}
			log.Info("connected to mongo", zap.String("database", conf.Database))
			markReady()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Disconnect(ctx)
		},
	})

	return newMongoStore(client, conf), nil
}
