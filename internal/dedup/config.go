package dedup

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the Redis configuration for the dedup store.
type Config struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	// DedupTTL bounds how long a processed event id blocks replays.
	DedupTTL time.Duration `mapstructure:"dedup-ttl"`
	// RedeliveryTTL bounds how long redelivery cycle counters live.
	RedeliveryTTL  time.Duration `mapstructure:"redelivery-ttl"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var conf Config
	if err := v.UnmarshalKey("redis", &conf); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal redis config: %w", err)
	}
	conf.applyDefaults()
	if conf.Addr == "" {
		return Config{}, fmt.Errorf("redis addr is required")
	}
	return conf, nil
}

func (c *Config) applyDefaults() {
	if c.DedupTTL == 0 {
		c.DedupTTL = 24 * time.Hour
	}
	if c.RedeliveryTTL == 0 {
		c.RedeliveryTTL = time.Hour
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}
