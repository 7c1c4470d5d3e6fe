package provisioner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	kafkaconfig "github.com/observashop/notification-service/pkg/kafka/config"
)

type fakeAdmin struct {
	mu            sync.Mutex
	metadataCalls int
	metadataFn    func(call int) (*kafka.Metadata, error)
	created       []kafka.TopicSpecification
	createResults []kafka.TopicResult
	createErr     error
}

func (f *fakeAdmin) GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadataCalls++
	return f.metadataFn(f.metadataCalls)
}

func (f *fakeAdmin) CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, topics...)
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.createResults != nil {
		return f.createResults, nil
	}
	results := make([]kafka.TopicResult, len(topics))
	for i, spec := range topics {
		results[i] = kafka.TopicResult{Topic: spec.Topic}
	}
	return results, nil
}

// metadataWith builds cluster metadata where each topic's single
// partition has the given leader.
func metadataWith(leaders map[string]int32) *kafka.Metadata {
	topics := make(map[string]kafka.TopicMetadata, len(leaders))
	for name, leader := range leaders {
		topics[name] = kafka.TopicMetadata{
			Topic:      name,
			Partitions: []kafka.PartitionMetadata{{ID: 0, Leader: leader}},
		}
	}
	return &kafka.Metadata{Topics: topics}
}

func testTopicsConfig() kafkaconfig.TopicsConfig {
	return kafkaconfig.TopicsConfig{
		Consume:           []string{"user.created", "order.created"},
		DeadLetter:        "notification-service.dlq",
		NumPartitions:     1,
		ReplicationFactor: 1,
		Retention:         7 * 24 * time.Hour,
		ReadinessTimeout:  500 * time.Millisecond,
		ReadinessInterval: 10 * time.Millisecond,
	}
}

func newTestProvisioner(t *testing.T, admin topicAdmin, conf kafkaconfig.TopicsConfig) *Provisioner {
	t.Helper()
	return New(admin, conf, zaptest.NewLogger(t))
}

func allReady() map[string]int32 {
	return map[string]int32{
		"user.created":             0,
		"order.created":            0,
		"notification-service.dlq": 0,
	}
}

func TestEnsureTopicsCreatesMissing(t *testing.T) {
	admin := &fakeAdmin{
		metadataFn: func(call int) (*kafka.Metadata, error) {
			if call == 1 {
				return metadataWith(map[string]int32{"user.created": 0}), nil
			}
			return metadataWith(allReady()), nil
		},
	}
	p := newTestProvisioner(t, admin, testTopicsConfig())

	err := p.EnsureTopics(context.Background())
	require.NoError(t, err)

	require.Len(t, admin.created, 2)
	byName := map[string]kafka.TopicSpecification{}
	for _, spec := range admin.created {
		byName[spec.Topic] = spec
	}
	require.Contains(t, byName, "order.created")
	require.Contains(t, byName, "notification-service.dlq")

	spec := byName["order.created"]
	assert.Equal(t, 1, spec.NumPartitions)
	assert.Equal(t, 1, spec.ReplicationFactor)
	assert.Equal(t, "delete", spec.Config["cleanup.policy"])
	assert.Equal(t, "604800000", spec.Config["retention.ms"])
	assert.Equal(t, "1", spec.Config["min.insync.replicas"])
}

func TestEnsureTopicsIdempotent(t *testing.T) {
	t.Run("skips creation when all topics exist", func(t *testing.T) {
		admin := &fakeAdmin{
			metadataFn: func(int) (*kafka.Metadata, error) {
				return metadataWith(allReady()), nil
			},
		}
		p := newTestProvisioner(t, admin, testTopicsConfig())

		require.NoError(t, p.EnsureTopics(context.Background()))
		assert.Empty(t, admin.created)
	})

	t.Run("tolerates losing the creation race", func(t *testing.T) {
		admin := &fakeAdmin{
			metadataFn: func(call int) (*kafka.Metadata, error) {
				if call == 1 {
					return metadataWith(map[string]int32{
						"user.created":  0,
						"order.created": 0,
					}), nil
				}
				return metadataWith(allReady()), nil
			},
			createResults: []kafka.TopicResult{{
				Topic: "notification-service.dlq",
				Error: kafka.NewError(kafka.ErrTopicAlreadyExists, "already exists", false),
			}},
		}
		p := newTestProvisioner(t, admin, testTopicsConfig())

		require.NoError(t, p.EnsureTopics(context.Background()))
	})
}

func TestEnsureTopicsCreateFailure(t *testing.T) {
	t.Run("broker rejects creation", func(t *testing.T) {
		admin := &fakeAdmin{
			metadataFn: func(int) (*kafka.Metadata, error) {
				return metadataWith(nil), nil
			},
			createErr: errors.New("not authorized"),
		}
		p := newTestProvisioner(t, admin, testTopicsConfig())

		err := p.EnsureTopics(context.Background())
		assert.ErrorContains(t, err, "create topics")
	})

	t.Run("per-topic error", func(t *testing.T) {
		admin := &fakeAdmin{
			metadataFn: func(int) (*kafka.Metadata, error) {
				return metadataWith(nil), nil
			},
			createResults: []kafka.TopicResult{{
				Topic: "user.created",
				Error: kafka.NewError(kafka.ErrInvalidReplicationFactor, "replication factor too large", false),
			}},
		}
		p := newTestProvisioner(t, admin, testTopicsConfig())

		err := p.EnsureTopics(context.Background())
		assert.ErrorContains(t, err, `create topic "user.created"`)
	})
}

func TestEnsureTopicsWaitsForLeaders(t *testing.T) {
	t.Run("succeeds once every partition has a leader", func(t *testing.T) {
		admin := &fakeAdmin{
			metadataFn: func(call int) (*kafka.Metadata, error) {
				leaders := allReady()
				// Leader election is still in flight for the first polls.
				if call < 4 {
					leaders["order.created"] = -1
				}
				return metadataWith(leaders), nil
			},
		}
		p := newTestProvisioner(t, admin, testTopicsConfig())

		require.NoError(t, p.EnsureTopics(context.Background()))
		assert.GreaterOrEqual(t, admin.metadataCalls, 4)
	})

	t.Run("times out naming the unready topics", func(t *testing.T) {
		conf := testTopicsConfig()
		conf.ReadinessTimeout = 50 * time.Millisecond
		admin := &fakeAdmin{
			metadataFn: func(int) (*kafka.Metadata, error) {
				leaders := allReady()
				leaders["order.created"] = -1
				return metadataWith(leaders), nil
			},
		}
		p := newTestProvisioner(t, admin, conf)

		err := p.EnsureTopics(context.Background())
		require.Error(t, err)
		assert.ErrorContains(t, err, "order.created")
	})

	t.Run("missing topic is not ready", func(t *testing.T) {
		assert.False(t, topicReady(metadataWith(nil), "user.created"))
	})

	t.Run("topic-level error is not ready", func(t *testing.T) {
		metadata := &kafka.Metadata{Topics: map[string]kafka.TopicMetadata{
			"user.created": {
				Topic: "user.created",
				Error: kafka.NewError(kafka.ErrLeaderNotAvailable, "leader not available", false),
			},
		}}
		assert.False(t, topicReady(metadata, "user.created"))
	})
}
