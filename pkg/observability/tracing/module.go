package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/observashop/notification-service/pkg/core/config"
	"github.com/observashop/notification-service/pkg/core/health"
)

const shutdownTimeout = 5 * time.Second

// NewTracingModule provides the tracer provider and the Kafka message
// tracer. With tracing disabled both collapse to no-ops.
func NewTracingModule() fx.Option {
	return fx.Provide(
		newConfig,
		provideTracerProvider,
		NewMessageTracer,
	)
}

func provideTracerProvider(lc fx.Lifecycle, log *zap.Logger, conf Config, app config.AppConfig, readiness health.ComponentManager) (trace.TracerProvider, error) {
	if !conf.Enabled {
		log.Info("tracing: disabled")
		return noop.NewTracerProvider(), nil
	}

	tp, err := newTracerProvider(context.Background(), log, conf, app)
	if err != nil {
		return nil, err
	}

	markReady := readiness.AddComponent("tracing")
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			otel.SetTracerProvider(tp)
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			))
			log.Info("tracing initialized", zap.String("endpoint", conf.Endpoint))
			markReady()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		},
	})

	return tp, nil
}
