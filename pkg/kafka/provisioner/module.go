package provisioner

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/observashop/notification-service/pkg/core/health"
	"github.com/observashop/notification-service/pkg/kafka/client"
	kafkaconfig "github.com/observashop/notification-service/pkg/kafka/config"
)

// NewProvisionerModule runs topic provisioning during startup, after the
// broker connection is up and before any consuming worker is released.
func NewProvisionerModule() fx.Option {
	return fx.Invoke(registerProvisioner)
}

func registerProvisioner(lc fx.Lifecycle, log *zap.Logger, conf kafkaconfig.Config, c *client.Client, readiness health.ComponentManager) {
	markReady := readiness.AddComponent("kafka-topics")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// The admin client shares the consumer's broker connection,
			// which exists once the client hook has run.
			admin, err := kafka.NewAdminClientFromConsumer(c.Consumer())
			if err != nil {
				return fmt.Errorf("create admin client: %w", err)
			}
			defer admin.Close()

			p := New(admin, conf.Topics, log.With(zap.String("component", "topic-provisioner")))
			if err := p.EnsureTopics(ctx); err != nil {
				return err
			}
			markReady()
			return nil
		},
	})
}
