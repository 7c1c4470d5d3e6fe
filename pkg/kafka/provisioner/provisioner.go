package provisioner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/observashop/notification-service/pkg/core/logger"
	kafkaconfig "github.com/observashop/notification-service/pkg/kafka/config"
)

// topicAdmin is the subset of *kafka.AdminClient the provisioner needs.
type topicAdmin interface {
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
}

// Provisioner creates the inbound and dead-letter topics and holds
// startup until every partition has an elected leader. Consuming from a
// leaderless partition would silently stall the pipeline.
type Provisioner struct {
	admin     topicAdmin
	conf      kafkaconfig.TopicsConfig
	log       *zap.Logger
	throttler *logger.LogThrottler
}

func New(admin topicAdmin, conf kafkaconfig.TopicsConfig, log *zap.Logger) *Provisioner {
	return &Provisioner{
		admin:     admin,
		conf:      conf,
		log:       log,
		throttler: logger.NewLogThrottler(log, 5*time.Second),
	}
}

// EnsureTopics creates every missing required topic and then waits until
// all of them are ready to serve. It is idempotent and safe to run on
// every startup.
func (p *Provisioner) EnsureTopics(ctx context.Context) error {
	required := p.conf.Required()

	existing, err := p.existingTopics()
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	missing := lo.Without(required, existing...)
	sort.Strings(missing)
	if len(missing) > 0 {
		if err := p.createTopics(ctx, missing); err != nil {
			return err
		}
	} else {
		p.log.Info("all topics already exist", zap.Strings("topics", required))
	}

	return p.waitUntilReady(ctx, required)
}

func (p *Provisioner) existingTopics() ([]string, error) {
	metadata, err := p.admin.GetMetadata(nil, true, int(p.conf.ReadinessTimeout.Milliseconds()))
	if err != nil {
		return nil, err
	}
	return lo.Keys(metadata.Topics), nil
}

func (p *Provisioner) createTopics(ctx context.Context, names []string) error {
	p.log.Info("creating missing topics", zap.Strings("topics", names))

	specs := lo.Map(names, func(name string, _ int) kafka.TopicSpecification {
		return kafka.TopicSpecification{
			Topic:             name,
			NumPartitions:     p.conf.NumPartitions,
			ReplicationFactor: p.conf.ReplicationFactor,
			Config: map[string]string{
				"cleanup.policy":      "delete",
				"retention.ms":        fmt.Sprintf("%d", p.conf.Retention.Milliseconds()),
				"min.insync.replicas": "1",
			},
		}
	})

	results, err := p.admin.CreateTopics(ctx, specs)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}

	for _, result := range results {
		code := result.Error.Code()
		if code == kafka.ErrNoError {
			p.log.Info("topic created",
				zap.String("topic", result.Topic),
				zap.Int("partitions", p.conf.NumPartitions))
			continue
		}
		// Another instance can win the race, that is fine.
		if code == kafka.ErrTopicAlreadyExists {
			p.log.Info("topic already exists", zap.String("topic", result.Topic))
			continue
		}
		return fmt.Errorf("create topic %q: %w", result.Topic, result.Error)
	}
	return nil
}

func (p *Provisioner) waitUntilReady(parent context.Context, required []string) error {
	ctx := parent
	if p.conf.ReadinessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, p.conf.ReadinessTimeout)
		defer cancel()
	}

	var unready []string
	for {
		unready = p.unreadyTopics(ctx, required)
		if len(unready) == 0 {
			p.log.Info("all topics are ready", zap.Strings("topics", required))
			return nil
		}

		p.throttler.Warn("topics-readiness", "still waiting for topics to become ready",
			zap.Strings("unready", unready))

		select {
		case <-ctx.Done():
			return fmt.Errorf("topics not ready after %s: %v", p.conf.ReadinessTimeout, unready)
		case <-time.After(p.conf.ReadinessInterval):
		}
	}
}

// unreadyTopics returns the required topics that are missing, carry a
// topic-level error, or have at least one partition without a leader.
func (p *Provisioner) unreadyTopics(ctx context.Context, required []string) []string {
	timeout := p.conf.ReadinessInterval
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return required
	}

	metadata, err := p.admin.GetMetadata(nil, true, int(timeout.Milliseconds()))
	if err != nil {
		p.log.Warn("failed to get cluster metadata, retrying", zap.Error(err))
		return required
	}

	unready := lo.Filter(required, func(name string, _ int) bool {
		return !topicReady(metadata, name)
	})
	sort.Strings(unready)
	return unready
}

func topicReady(metadata *kafka.Metadata, name string) bool {
	topicMeta, ok := metadata.Topics[name]
	if !ok || topicMeta.Error.Code() != kafka.ErrNoError || len(topicMeta.Partitions) == 0 {
		return false
	}
	for _, partition := range topicMeta.Partitions {
		if partition.Leader < 0 {
			return false
		}
	}
	return true
}
