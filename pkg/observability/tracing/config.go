package tracing

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config controls the OpenTelemetry tracing setup.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// Endpoint is the OTLP gRPC collector address. Empty keeps spans
	// in-process for local development.
	Endpoint string `mapstructure:"endpoint"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var conf Config
	if err := v.UnmarshalKey("tracing", &conf); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal tracing config: %w", err)
	}
	return conf, nil
}
