package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the Kafka configuration for the notification pipeline.
type Config struct {
	// Brokers is a comma-separated list of broker addresses.
	Brokers  string         `mapstructure:"brokers"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Producer ProducerConfig `mapstructure:"producer"`
	Topics   TopicsConfig   `mapstructure:"topics"`
}

// ConsumerConfig configures the single pipeline consumer.
type ConsumerConfig struct {
	GroupID         string        `mapstructure:"group-id"`
	AutoOffsetReset string        `mapstructure:"auto-offset-reset"`
	SessionTimeout  time.Duration `mapstructure:"session-timeout"`
	// PollTimeout bounds a single poll; it is also the loop's
	// cancellation checkpoint interval.
	PollTimeout time.Duration `mapstructure:"poll-timeout"`
	// MaxRetryAttempts is the total number of handler invocations per
	// delivery for transient failures.
	MaxRetryAttempts int           `mapstructure:"max-retry-attempts"`
	InitialBackoff   time.Duration `mapstructure:"initial-backoff"`
	MaxBackoff       time.Duration `mapstructure:"max-backoff"`
	// MaxRedeliveryCycles bounds how many exhausted retry cycles a
	// record may go through before it is dead-lettered.
	MaxRedeliveryCycles int `mapstructure:"max-redelivery-cycles"`
}

// ProducerConfig configures the idempotent producer used for the DLQ.
type ProducerConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
	FlushTimeout   time.Duration `mapstructure:"flush-timeout"`
}

// TopicsConfig names the inbound and dead-letter topics and carries the
// provisioning parameters.
type TopicsConfig struct {
	Consume           []string      `mapstructure:"consume"`
	DeadLetter        string        `mapstructure:"dead-letter"`
	NumPartitions     int           `mapstructure:"num-partitions"`
	ReplicationFactor int           `mapstructure:"replication-factor"`
	Retention         time.Duration `mapstructure:"retention"`
	ReadinessTimeout  time.Duration `mapstructure:"readiness-timeout"`
	ReadinessInterval time.Duration `mapstructure:"readiness-interval"`
}

// Required returns every topic the provisioner must ensure, the DLQ
// included.
func (t TopicsConfig) Required() []string {
	return append(append([]string{}, t.Consume...), t.DeadLetter)
}

func newConfig(v *viper.Viper, log *zap.Logger) (Config, error) {
	sub := v.Sub("kafka")
	if sub == nil {
		return Config{}, fmt.Errorf("missing kafka config section")
	}

	var cfg Config
	if err := sub.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load kafka config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	log.Info("loaded kafka config",
		zap.String("brokers", cfg.Brokers),
		zap.Strings("topics", cfg.Topics.Consume),
		zap.String("dlq", cfg.Topics.DeadLetter),
		zap.String("group_id", cfg.Consumer.GroupID))
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Consumer.AutoOffsetReset == "" {
		cfg.Consumer.AutoOffsetReset = "earliest"
	}
	if cfg.Consumer.SessionTimeout == 0 {
		cfg.Consumer.SessionTimeout = 30 * time.Second
	}
	if cfg.Consumer.PollTimeout == 0 {
		cfg.Consumer.PollTimeout = time.Second
	}
	if cfg.Consumer.MaxRetryAttempts == 0 {
		cfg.Consumer.MaxRetryAttempts = 3
	}
	if cfg.Consumer.InitialBackoff == 0 {
		cfg.Consumer.InitialBackoff = time.Second
	}
	if cfg.Consumer.MaxBackoff == 0 {
		cfg.Consumer.MaxBackoff = 10 * time.Second
	}
	if cfg.Consumer.MaxRedeliveryCycles == 0 {
		cfg.Consumer.MaxRedeliveryCycles = 3
	}
	if cfg.Producer.ConnectTimeout == 0 {
		cfg.Producer.ConnectTimeout = 10 * time.Second
	}
	if cfg.Producer.FlushTimeout == 0 {
		cfg.Producer.FlushTimeout = 5 * time.Second
	}
	if len(cfg.Topics.Consume) == 0 {
		cfg.Topics.Consume = []string{
			"user.created",
			"order.created",
			"payment.failed",
			"product.back_in_stock",
		}
	}
	if cfg.Topics.DeadLetter == "" {
		cfg.Topics.DeadLetter = "notification-service.dlq"
	}
	if cfg.Topics.NumPartitions == 0 {
		cfg.Topics.NumPartitions = 1
	}
	if cfg.Topics.ReplicationFactor == 0 {
		cfg.Topics.ReplicationFactor = 1
	}
	if cfg.Topics.Retention == 0 {
		cfg.Topics.Retention = 7 * 24 * time.Hour
	}
	if cfg.Topics.ReadinessTimeout == 0 {
		cfg.Topics.ReadinessTimeout = 60 * time.Second
	}
	if cfg.Topics.ReadinessInterval == 0 {
		cfg.Topics.ReadinessInterval = 2 * time.Second
	}
}

func validate(cfg Config) error {
	if cfg.Brokers == "" {
		return fmt.Errorf("kafka.brokers is required")
	}
	if cfg.Consumer.GroupID == "" {
		return fmt.Errorf("kafka.consumer.group-id is required")
	}
	if reset := cfg.Consumer.AutoOffsetReset; reset != "earliest" && reset != "latest" {
		return fmt.Errorf("kafka.consumer.auto-offset-reset must be earliest or latest, got %q", reset)
	}
	if cfg.Consumer.MaxRetryAttempts < 1 {
		return fmt.Errorf("kafka.consumer.max-retry-attempts must be at least 1")
	}
	if cfg.Consumer.InitialBackoff > cfg.Consumer.MaxBackoff {
		return fmt.Errorf("kafka.consumer.initial-backoff must not exceed max-backoff")
	}
	return nil
}
