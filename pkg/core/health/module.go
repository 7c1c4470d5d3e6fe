package health

import (
	"go.uber.org/fx"
)

// NewReadinessModule provides the readiness tracker behind its three
// role interfaces.
func NewReadinessModule() fx.Option {
	return fx.Provide(
		newReadiness,
		func(r *readiness) ComponentManager { return r },
		func(r *readiness) ReadinessChecker { return r },
		func(r *readiness) ReadinessWaiter { return r },
	)
}
