package client

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/observashop/notification-service/pkg/core/config"
	"github.com/observashop/notification-service/pkg/core/health"
	kafkaconfig "github.com/observashop/notification-service/pkg/kafka/config"
	"github.com/observashop/notification-service/pkg/observability/tracing"
)

func NewClientModule() fx.Option {
	return fx.Provide(provideClient)
}

func provideClient(lc fx.Lifecycle, log *zap.Logger, conf kafkaconfig.Config, app config.AppConfig, tracer tracing.MessageTracer, readiness health.ComponentManager) *Client {
	c := New(conf, app.ServiceName, tracer, log.With(zap.String("component", "kafka-client")))

	markReady := readiness.AddComponent("kafka-client")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.Connect(ctx); err != nil {
				return err
			}
			markReady()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Close()
			return nil
		},
	})

	return c
}
