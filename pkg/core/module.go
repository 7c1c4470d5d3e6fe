package core

import (
	"time"

	"github.com/observashop/notification-service/pkg/core/config"
	"github.com/observashop/notification-service/pkg/core/health"
	"github.com/observashop/notification-service/pkg/core/logger"
	"go.uber.org/fx"
)

// NewCoreModule provides the service foundation: app config, viper,
// logger, and component readiness tracking. Startup and shutdown
// timeouts are raised because topic provisioning can block OnStart
// until the broker elects partition leaders.
func NewCoreModule() fx.Option {
	return fx.Options(
		fx.StartTimeout(5*time.Minute),
		fx.StopTimeout(5*time.Minute),

		config.NewAppConfigModule(),
		config.NewViperModule(),
		logger.NewLoggerModule(),
		health.NewReadinessModule(),
	)
}
