package config

import "go.uber.org/fx"

// NewKafkaConfigModule provides the Kafka Config from viper.
func NewKafkaConfigModule() fx.Option {
	return fx.Provide(newConfig)
}
