package consumer

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/observashop/notification-service/internal/dedup"
	"github.com/observashop/notification-service/pkg/core/worker"
	"github.com/observashop/notification-service/pkg/events"
	"github.com/observashop/notification-service/pkg/kafka/client"
	kafkaconfig "github.com/observashop/notification-service/pkg/kafka/config"
	"github.com/observashop/notification-service/pkg/observability/tracing"
)

// NewConsumerModule wires the consumption loop as a lifecycle-managed
// worker. The loop starts only once every component reports ready, in
// particular after the topics are provisioned.
func NewConsumerModule() fx.Option {
	return fx.Provide(
		newLoopRunner,
		worker.Register[*loopRunner]("event-consumer",
			worker.WithReady(), worker.WithShutdown()),
	)
}

// loopRunner defers building the Loop until the worker actually runs,
// when the broker connection is established.
type loopRunner struct {
	client   *client.Client
	store    *dedup.Store
	registry *events.Registry
	conf     kafkaconfig.Config
	tracer   tracing.MessageTracer
	log      *zap.Logger
}

func newLoopRunner(c *client.Client, store *dedup.Store, registry *events.Registry, conf kafkaconfig.Config, tracer tracing.MessageTracer, log *zap.Logger) *loopRunner {
	return &loopRunner{
		client:   c,
		store:    store,
		registry: registry,
		conf:     conf,
		tracer:   tracer,
		log:      log.With(zap.String("component", "event-consumer")),
	}
}

func (r *loopRunner) Run(ctx context.Context) error {
	loop := NewLoop(r.client.Consumer(), r.client, r.store, r.registry, r.conf, r.tracer, r.log)
	return loop.Run(ctx)
}
