package logger

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewLoggerModule provides the zap logger for dependency injection and
// flushes buffered entries on shutdown.
func NewLoggerModule() fx.Option {
	return fx.Options(
		fx.Provide(
			newConfig,
			newLogger,
		),
		fx.Invoke(func(lc fx.Lifecycle, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					// Sync can fail on stderr, nothing to act on.
					_ = log.Sync()
					return nil
				},
			})
		}),
	)
}
