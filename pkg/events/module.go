package events

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRegistryModule provides the registry populated with every handler
// contributed to the "event-handlers" group.
func NewRegistryModule() fx.Option {
	return fx.Provide(
		fx.Annotate(
			newRegistryWithHandlers,
			fx.ParamTags(``, `group:"event-handlers"`),
		),
	)
}

// AsHandler annotates a handler constructor into the registry group.
func AsHandler(constructor any) any {
	return fx.Annotate(
		constructor,
		fx.As(new(Handler)),
		fx.ResultTags(`group:"event-handlers"`),
	)
}

func newRegistryWithHandlers(log *zap.Logger, handlers []Handler) *Registry {
	registry := NewRegistry(log.With(zap.String("component", "event-registry")))
	for _, h := range handlers {
		registry.Register(h)
	}
	return registry
}
