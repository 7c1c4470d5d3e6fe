package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/observashop/notification-service/pkg/core/logger"
	"github.com/observashop/notification-service/pkg/events"
	kafkaconfig "github.com/observashop/notification-service/pkg/kafka/config"
	"github.com/observashop/notification-service/pkg/observability/tracing"
)

// kafkaConsumer is the subset of *kafka.Consumer the loop uses.
type kafkaConsumer interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Seek(partition kafka.TopicPartition, ignoredTimeoutMs int) error
}

// deadLetterProducer parks messages that cannot be processed.
type deadLetterProducer interface {
	ProduceDeadLetter(ctx context.Context, original *kafka.Message, procErr error)
}

// dedupStore tracks processed events and redelivery cycles.
type dedupStore interface {
	IsDuplicate(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
	IncrRedeliveries(ctx context.Context, eventID string) (int64, error)
	ClearRedeliveries(ctx context.Context, eventID string)
}

// Loop is the single-threaded consumption loop. Every message runs the
// same state machine: decode, validate, dedup, dispatch, then commit.
// An offset is only committed once its message reached a terminal
// state, handled or dead-lettered, so a crash can never lose an event.
type Loop struct {
	consumer  kafkaConsumer
	dlq       deadLetterProducer
	dedup     dedupStore
	registry  *events.Registry
	retry     *retryExecutor
	conf      kafkaconfig.ConsumerConfig
	topics    []string
	tracer    tracing.MessageTracer
	log       *zap.Logger
	throttler *logger.LogThrottler
}

func NewLoop(
	consumer kafkaConsumer,
	dlq deadLetterProducer,
	dedup dedupStore,
	registry *events.Registry,
	conf kafkaconfig.Config,
	tracer tracing.MessageTracer,
	log *zap.Logger,
) *Loop {
	return &Loop{
		consumer: consumer,
		dlq:      dlq,
		dedup:    dedup,
		registry: registry,
		tracer:   tracer,
		retry: newRetryExecutor(
			conf.Consumer.MaxRetryAttempts,
			conf.Consumer.InitialBackoff,
			conf.Consumer.MaxBackoff,
			log,
		),
		conf:      conf.Consumer,
		topics:    conf.Topics.Consume,
		log:       log,
		throttler: logger.NewLogThrottler(log, 5*time.Second),
	}
}

// Run consumes until the context is cancelled. Broker errors are logged
// and absorbed, they never bring the loop down.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.consumer.SubscribeTopics(l.topics, nil); err != nil {
		return fmt.Errorf("subscribe to %v: %w", l.topics, err)
	}
	l.log.Info("consumption loop started",
		zap.Strings("topics", l.topics),
		zap.String("group_id", l.conf.GroupID))

	for ctx.Err() == nil {
		message, err := l.consumer.ReadMessage(l.conf.PollTimeout)
		if err != nil {
			l.handleReadError(err)
			continue
		}
		l.process(ctx, message)
	}

	l.log.Info("consumption loop stopped")
	return nil
}

func (l *Loop) handleReadError(err error) {
	var kafkaErr kafka.Error
	if !errors.As(err, &kafkaErr) {
		l.throttler.Warn("read-error", "failed to read message", zap.Error(err))
		return
	}

	switch {
	case kafkaErr.IsTimeout():
		// An idle poll interval, nothing to do.
	case kafkaErr.Code() == kafka.ErrPartitionEOF:
		l.log.Debug("reached end of partition")
	default:
		l.throttler.Warn("broker-error", "broker error while reading, will keep polling",
			zap.String("code", kafkaErr.Code().String()),
			zap.Error(err))
	}
}

func (l *Loop) process(ctx context.Context, message *kafka.Message) {
	ctx, span := l.tracer.StartConsumerSpan(ctx, message)
	defer span.End()

	envelope, err := events.Decode(message.Value)
	if err != nil {
		l.log.Error("undecodable message, dead-lettering",
			zap.String("topic", topicOf(message)),
			zap.Int64("offset", int64(message.TopicPartition.Offset)),
			zap.Error(err))
		l.park(ctx, message, "", err)
		return
	}

	eventLog := l.log.With(
		zap.String("event_id", envelope.EventID),
		zap.String("event_type", envelope.EventType),
		zap.String("topic", topicOf(message)))

	if err := envelope.Validate(); err != nil {
		eventLog.Error("invalid envelope, dead-lettering", zap.Error(err))
		l.park(ctx, message, envelope.EventID, err)
		return
	}

	payload, err := events.DecodePayload(envelope)
	if err != nil {
		if errors.Is(err, events.ErrUnknownEventType) {
			// Unknown types are skipped, not parked: another consumer
			// on a shared topic may understand them.
			eventLog.Warn("unknown event type, skipping")
			l.commit(message)
			return
		}
		eventLog.Error("event failed schema validation, dead-lettering", zap.Error(err))
		l.park(ctx, message, envelope.EventID, err)
		return
	}

	handler, ok := l.registry.Lookup(envelope.EventType)
	if !ok {
		eventLog.Warn("no handler registered for event type, skipping")
		l.commit(message)
		return
	}

	duplicate, err := l.dedup.IsDuplicate(ctx, envelope.EventID)
	if err != nil {
		// Fail open: processing a duplicate beats dropping an event.
		eventLog.Warn("deduplication unavailable, processing anyway", zap.Error(err))
	}
	if duplicate {
		eventLog.Debug("duplicate event, skipping")
		l.commit(message)
		return
	}

	err = l.retry.Execute(ctx, func(ctx context.Context) error {
		return handler.Handle(ctx, envelope, payload)
	})
	switch {
	case err == nil:
		if err := l.dedup.MarkProcessed(ctx, envelope.EventID); err != nil {
			eventLog.Warn("failed to record processed event", zap.Error(err))
		}
		l.dedup.ClearRedeliveries(ctx, envelope.EventID)
		span.SetStatus(codes.Ok, "")
		l.commit(message)
	case errors.Is(err, ErrPermanent):
		eventLog.Error("permanent failure, dead-lettering", zap.Error(err))
		l.park(ctx, message, envelope.EventID, err)
	case ctx.Err() != nil:
		// Shutting down mid-processing. No commit, the group will
		// redeliver the message after restart.
		eventLog.Info("processing interrupted by shutdown")
	default:
		l.redeliver(ctx, message, envelope.EventID, eventLog, err)
	}
}

// redeliver rewinds the partition to the failed message so it is read
// again, counting the cycles so a persistently failing message ends up
// in the DLQ instead of wedging the partition forever.
func (l *Loop) redeliver(ctx context.Context, message *kafka.Message, eventID string, eventLog *zap.Logger, cause error) {
	cycles, err := l.dedup.IncrRedeliveries(ctx, eventID)
	if err != nil {
		// Without the counter a rewind could loop forever, parking is
		// the safe end state.
		eventLog.Error("cannot track redelivery cycles, dead-lettering", zap.Error(err))
		l.park(ctx, message, eventID, cause)
		return
	}

	if cycles >= int64(l.conf.MaxRedeliveryCycles) {
		eventLog.Error("redelivery cycles exhausted, dead-lettering",
			zap.Int64("cycles", cycles),
			zap.Int("max_cycles", l.conf.MaxRedeliveryCycles),
			zap.Error(cause))
		l.park(ctx, message, eventID, fmt.Errorf("failed after %d redelivery cycles: %w", cycles, cause))
		return
	}

	eventLog.Warn("retries exhausted, rewinding for redelivery",
		zap.Int64("cycle", cycles),
		zap.Int("max_cycles", l.conf.MaxRedeliveryCycles),
		zap.Error(cause))
	if err := l.consumer.Seek(message.TopicPartition, 0); err != nil {
		eventLog.Error("failed to rewind partition, dead-lettering", zap.Error(err))
		l.park(ctx, message, eventID, cause)
	}
}

// park sends the message to the DLQ and commits it. Dead-lettering is a
// terminal state, so the offset must advance.
func (l *Loop) park(ctx context.Context, message *kafka.Message, eventID string, cause error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, "message dead-lettered")

	l.dlq.ProduceDeadLetter(ctx, message, cause)
	if eventID != "" {
		l.dedup.ClearRedeliveries(ctx, eventID)
	}
	l.commit(message)
}

func (l *Loop) commit(message *kafka.Message) {
	if _, err := l.consumer.CommitMessage(message); err != nil {
		l.log.Error("failed to commit offset",
			zap.String("topic", topicOf(message)),
			zap.Int64("offset", int64(message.TopicPartition.Offset)),
			zap.Error(err))
	}
}

func topicOf(message *kafka.Message) string {
	if message.TopicPartition.Topic == nil {
		return ""
	}
	return *message.TopicPartition.Topic
}
