package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	kafkaconfig "github.com/observashop/notification-service/pkg/kafka/config"
	"github.com/observashop/notification-service/pkg/observability/tracing"
)

// messageProducer is the subset of *kafka.Producer used by the client.
type messageProducer interface {
	Produce(message *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Client owns the shared consumer and producer connections. Connect must
// succeed before any of the consuming or producing methods are used.
type Client struct {
	conf      kafkaconfig.Config
	service   string
	tracer    tracing.MessageTracer
	log       *zap.Logger
	consumer  *kafka.Consumer
	producer  messageProducer
	connected atomic.Bool
}

func New(conf kafkaconfig.Config, service string, tracer tracing.MessageTracer, log *zap.Logger) *Client {
	return &Client{
		conf:    conf,
		service: service,
		tracer:  tracer,
		log:     log,
	}
}

// Connect creates the consumer and the idempotent producer and verifies
// that at least one broker is reachable. Failures are classified into
// the sentinel error kinds and are fatal to the caller.
func (c *Client) Connect(ctx context.Context) error {
	if c.conf.Brokers == "" {
		return ErrNoBrokers
	}

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  c.conf.Brokers,
		"group.id":           c.conf.Consumer.GroupID,
		"auto.offset.reset":  c.conf.Consumer.AutoOffsetReset,
		"session.timeout.ms": int(c.conf.Consumer.SessionTimeout.Milliseconds()),
		"enable.auto.commit": false,
	})
	if err != nil {
		return classifyConnectError(fmt.Errorf("create consumer: %w", err))
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  c.conf.Brokers,
		"enable.idempotence": true,
		"acks":               "all",
	})
	if err != nil {
		_ = consumer.Close()
		return classifyConnectError(fmt.Errorf("create producer: %w", err))
	}

	// NewConsumer does not touch the network, so probe the cluster
	// explicitly to fail fast when no broker answers.
	if _, err := consumer.GetMetadata(nil, false, int(c.conf.Producer.ConnectTimeout.Milliseconds())); err != nil {
		_ = consumer.Close()
		producer.Close()
		return classifyConnectError(fmt.Errorf("probe brokers %q: %w", c.conf.Brokers, err))
	}

	c.consumer = consumer
	c.producer = producer
	c.connected.Store(true)
	c.log.Info("connected to kafka", zap.String("brokers", c.conf.Brokers), zap.String("group_id", c.conf.Consumer.GroupID))
	return nil
}

// Consumer exposes the shared consumer connection.
func (c *Client) Consumer() *kafka.Consumer {
	return c.consumer
}

// IsHealthy reports whether the cluster still answers metadata requests.
func (c *Client) IsHealthy() bool {
	if !c.connected.Load() {
		return false
	}
	_, err := c.consumer.GetMetadata(nil, false, int(c.conf.Producer.ConnectTimeout.Milliseconds()))
	return err == nil
}

// ProduceDeadLetter parks a message on the dead-letter topic together
// with the processing error. Delivery is awaited synchronously and
// failures are logged but never propagated, so a broken DLQ cannot take
// the consumption loop down with it.
func (c *Client) ProduceDeadLetter(ctx context.Context, original *kafka.Message, procErr error) {
	dlqTopic := c.conf.Topics.DeadLetter
	ctx, span := c.tracer.StartDLQSpan(ctx, original, dlqTopic)
	defer span.End()

	entry := newDeadLetterEntry(original.Value, procErr, c.service)
	value, err := json.Marshal(entry)
	if err != nil {
		c.log.Error("failed to encode dead-letter entry", zap.Error(err))
		return
	}

	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &dlqTopic,
			Partition: kafka.PartitionAny,
		},
		Key:   original.Key,
		Value: value,
	}
	if original.TopicPartition.Topic != nil {
		message.Headers = []kafka.Header{
			{Key: "dlq.original.topic", Value: []byte(*original.TopicPartition.Topic)},
			{Key: "dlq.original.partition", Value: []byte(fmt.Sprintf("%d", original.TopicPartition.Partition))},
			{Key: "dlq.original.offset", Value: []byte(fmt.Sprintf("%d", original.TopicPartition.Offset))},
		}
	}

	c.tracer.InjectContext(ctx, message)

	deliveryChan := make(chan kafka.Event, 1)
	if err := c.producer.Produce(message, deliveryChan); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message to DLQ")
		c.log.Error("failed to send message to DLQ",
			zap.String("dlq_topic", dlqTopic),
			zap.String("key", string(original.Key)),
			zap.Error(err))
		return
	}

	select {
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			c.log.Error("unexpected event type from delivery channel")
			return
		}
		if m.TopicPartition.Error != nil {
			span.RecordError(m.TopicPartition.Error)
			span.SetStatus(codes.Error, "failed to deliver message to DLQ")
			c.log.Error("failed to deliver message to DLQ",
				zap.String("dlq_topic", dlqTopic),
				zap.String("key", string(original.Key)),
				zap.Error(m.TopicPartition.Error))
			return
		}
		span.SetStatus(codes.Ok, "message sent to DLQ")
		c.log.Info("message sent to DLQ",
			zap.String("dlq_topic", dlqTopic),
			zap.String("key", string(original.Key)),
			zap.String("error", procErr.Error()))
	case <-ctx.Done():
		c.log.Warn("gave up waiting for DLQ delivery report", zap.String("dlq_topic", dlqTopic))
	case <-time.After(c.conf.Producer.FlushTimeout):
		c.log.Warn("timed out waiting for DLQ delivery report", zap.String("dlq_topic", dlqTopic))
	}
}

// Close tears both connections down. Every step is attempted and errors
// are swallowed so shutdown never wedges on a dead broker.
func (c *Client) Close() {
	if !c.connected.Swap(false) {
		return
	}

	if err := c.consumer.Unsubscribe(); err != nil {
		c.log.Warn("failed to unsubscribe consumer", zap.Error(err))
	}
	if outstanding := c.producer.Flush(int(c.conf.Producer.FlushTimeout.Milliseconds())); outstanding > 0 {
		c.log.Warn("producer closed with undelivered messages", zap.Int("outstanding", outstanding))
	}
	if err := c.consumer.Close(); err != nil {
		c.log.Warn("failed to close consumer", zap.Error(err))
	}
	c.producer.Close()
	c.log.Info("kafka connections closed")
}
