package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/observashop/notification-service/pkg/events"
	kafkaconfig "github.com/observashop/notification-service/pkg/kafka/config"
	"github.com/observashop/notification-service/pkg/observability/tracing"
)

const (
	testEventID = "5f0c01a2-98a1-4a7d-9cbb-0f2b53f9aa11"
	testUserID  = "9b3f7b44-6d0a-4a5e-8a2f-6c1d6c8b2e01"
)

type readResult struct {
	message *kafka.Message
	err     error
}

// fakeConsumer serves a scripted sequence of reads and cancels the loop
// context once the script runs out.
type fakeConsumer struct {
	cancel     context.CancelFunc
	queue      []readResult
	subscribed []string
	commits    []*kafka.Message
	seeks      []kafka.TopicPartition
	seekErr    error
	journal    *[]string
}

func (f *fakeConsumer) SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error {
	f.subscribed = topics
	return nil
}

func (f *fakeConsumer) ReadMessage(timeout time.Duration) (*kafka.Message, error) {
	if len(f.queue) == 0 {
		f.cancel()
		return nil, kafka.NewError(kafka.ErrTimedOut, "timed out", false)
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next.message, next.err
}

func (f *fakeConsumer) CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error) {
	f.commits = append(f.commits, m)
	*f.journal = append(*f.journal, "commit")
	return []kafka.TopicPartition{m.TopicPartition}, nil
}

func (f *fakeConsumer) Seek(partition kafka.TopicPartition, ignoredTimeoutMs int) error {
	if f.seekErr != nil {
		return f.seekErr
	}
	f.seeks = append(f.seeks, partition)
	*f.journal = append(*f.journal, "seek")
	return nil
}

type fakeDLQ struct {
	parked  []*kafka.Message
	causes  []error
	journal *[]string
}

func (f *fakeDLQ) ProduceDeadLetter(ctx context.Context, original *kafka.Message, procErr error) {
	f.parked = append(f.parked, original)
	f.causes = append(f.causes, procErr)
	*f.journal = append(*f.journal, "dlq")
}

type fakeDedup struct {
	duplicates map[string]bool
	lookupErr  error
	markErr    error
	cycles     int64
	incrErr    error
	cleared    []string
	journal    *[]string
}

func (f *fakeDedup) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.duplicates[eventID], nil
}

func (f *fakeDedup) MarkProcessed(ctx context.Context, eventID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.duplicates[eventID] = true
	*f.journal = append(*f.journal, "mark-processed")
	return nil
}

func (f *fakeDedup) IncrRedeliveries(ctx context.Context, eventID string) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.cycles++
	return f.cycles, nil
}

func (f *fakeDedup) ClearRedeliveries(ctx context.Context, eventID string) {
	f.cleared = append(f.cleared, eventID)
}

type fnHandler struct {
	eventType string
	fn        func(ctx context.Context, envelope events.Envelope) error
}

func (h *fnHandler) EventType() string { return h.eventType }

func (h *fnHandler) Handle(ctx context.Context, envelope events.Envelope, payload any) error {
	return h.fn(ctx, envelope)
}

// loopFixture bundles the loop under test with its fakes.
type loopFixture struct {
	loop     *Loop
	consumer *fakeConsumer
	dlq      *fakeDLQ
	dedup    *fakeDedup
	registry *events.Registry
	journal  []string
	ctx      context.Context
	cancel   context.CancelFunc
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &loopFixture{ctx: ctx, cancel: cancel}
	f.consumer = &fakeConsumer{cancel: cancel, journal: &f.journal}
	f.dlq = &fakeDLQ{journal: &f.journal}
	f.dedup = &fakeDedup{duplicates: map[string]bool{}, journal: &f.journal}
	f.registry = events.NewRegistry(zaptest.NewLogger(t))

	conf := kafkaconfig.Config{
		Brokers: "localhost:9092",
		Consumer: kafkaconfig.ConsumerConfig{
			GroupID:             "notification-service",
			PollTimeout:         5 * time.Millisecond,
			MaxRetryAttempts:    3,
			InitialBackoff:      time.Millisecond,
			MaxBackoff:          2 * time.Millisecond,
			MaxRedeliveryCycles: 3,
		},
		Topics: kafkaconfig.TopicsConfig{
			Consume:    []string{"user.created", "order.created"},
			DeadLetter: "notification-service.dlq",
		},
	}
	tracer := tracing.NewMessageTracer(noop.NewTracerProvider())
	f.loop = NewLoop(f.consumer, f.dlq, f.dedup, f.registry, conf, tracer, zaptest.NewLogger(t))
	return f
}

func (f *loopFixture) handle(t *testing.T, eventType string, fn func(ctx context.Context, envelope events.Envelope) error) {
	t.Helper()
	f.registry.Register(&fnHandler{eventType: eventType, fn: fn})
}

func (f *loopFixture) enqueue(message *kafka.Message) {
	f.consumer.queue = append(f.consumer.queue, readResult{message: message})
}

func (f *loopFixture) enqueueError(err error) {
	f.consumer.queue = append(f.consumer.queue, readResult{err: err})
}

func (f *loopFixture) run(t *testing.T) {
	t.Helper()
	require.NoError(t, f.loop.Run(f.ctx))
}

func eventMessage(t *testing.T, eventType string, data any) *kafka.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	value, err := json.Marshal(events.Envelope{
		EventID:   testEventID,
		EventType: eventType,
		Source:    "user_service",
		Timestamp: time.Now().UTC(),
		Version:   "1.0",
		Data:      raw,
	})
	require.NoError(t, err)

	topic := eventType
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: 7},
		Key:            []byte(testEventID),
		Value:          value,
	}
}

func userCreatedMessage(t *testing.T) *kafka.Message {
	return eventMessage(t, events.TypeUserCreated, events.UserCreated{
		UserID: testUserID,
		Email:  "ada@example.com",
	})
}

func TestLoopSubscribesToConfiguredTopics(t *testing.T) {
	f := newLoopFixture(t)

	f.run(t)

	assert.Equal(t, []string{"user.created", "order.created"}, f.consumer.subscribed)
}

func TestLoopHandlesEvent(t *testing.T) {
	f := newLoopFixture(t)
	var handled []events.Envelope
	f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
		handled = append(handled, envelope)
		f.journal = append(f.journal, "handle")
		return nil
	})
	f.enqueue(userCreatedMessage(t))

	f.run(t)

	require.Len(t, handled, 1)
	assert.Equal(t, testEventID, handled[0].EventID)
	// Offsets only move after the event reached a terminal state.
	assert.Equal(t, []string{"handle", "mark-processed", "commit"}, f.journal)
	assert.Empty(t, f.dlq.parked)
	assert.Empty(t, f.consumer.seeks)
}

func TestLoopAcceptsOpaqueEventIDs(t *testing.T) {
	f := newLoopFixture(t)
	handled := 0
	f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
		handled++
		return nil
	})

	value, err := json.Marshal(events.Envelope{
		EventID:   "e1",
		EventType: events.TypeUserCreated,
		Source:    "user_service",
		Timestamp: time.Now().UTC(),
		Version:   "1.0",
		Data:      json.RawMessage(`{"user_id": "` + testUserID + `", "email": "ada@example.com"}`),
	})
	require.NoError(t, err)
	topic := "user.created"
	f.enqueue(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: 7},
		Key:            []byte("e1"),
		Value:          value,
	})

	f.run(t)

	assert.Equal(t, 1, handled)
	assert.Empty(t, f.dlq.parked)
	assert.Len(t, f.consumer.commits, 1)
}

func TestLoopDeadLettersPoisonMessages(t *testing.T) {
	t.Run("undecodable payload", func(t *testing.T) {
		f := newLoopFixture(t)
		topic := "user.created"
		f.enqueue(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: 7},
			Value:          []byte(`{oops`),
		})

		f.run(t)

		require.Len(t, f.dlq.parked, 1)
		assert.ErrorIs(t, f.dlq.causes[0], events.ErrMalformed)
		assert.Equal(t, []string{"dlq", "commit"}, f.journal)
	})

	t.Run("invalid envelope", func(t *testing.T) {
		f := newLoopFixture(t)
		message := userCreatedMessage(t)
		var envelope map[string]any
		require.NoError(t, json.Unmarshal(message.Value, &envelope))
		delete(envelope, "source")
		message.Value, _ = json.Marshal(envelope)
		f.enqueue(message)

		f.run(t)

		require.Len(t, f.dlq.parked, 1)
		assert.ErrorIs(t, f.dlq.causes[0], events.ErrValidation)
		assert.Equal(t, []string{"dlq", "commit"}, f.journal)
	})

	t.Run("schema mismatch", func(t *testing.T) {
		f := newLoopFixture(t)
		handled := 0
		f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
			handled++
			return nil
		})
		f.enqueue(eventMessage(t, events.TypeUserCreated, events.UserCreated{UserID: testUserID}))

		f.run(t)

		assert.Zero(t, handled)
		require.Len(t, f.dlq.parked, 1)
		assert.ErrorIs(t, f.dlq.causes[0], events.ErrValidation)
		assert.Equal(t, []string{"dlq", "commit"}, f.journal)
	})
}

func TestLoopSkipsWithoutParking(t *testing.T) {
	t.Run("unknown event type", func(t *testing.T) {
		f := newLoopFixture(t)
		f.enqueue(eventMessage(t, "invoice.settled", map[string]string{"invoice_id": "i-1"}))

		f.run(t)

		assert.Empty(t, f.dlq.parked)
		assert.Equal(t, []string{"commit"}, f.journal)
	})

	t.Run("known type without a handler", func(t *testing.T) {
		f := newLoopFixture(t)
		f.enqueue(userCreatedMessage(t))

		f.run(t)

		assert.Empty(t, f.dlq.parked)
		assert.Equal(t, []string{"commit"}, f.journal)
	})
}

func TestLoopDeduplicates(t *testing.T) {
	t.Run("duplicate is skipped and committed", func(t *testing.T) {
		f := newLoopFixture(t)
		handled := 0
		f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
			handled++
			return nil
		})
		f.dedup.duplicates[testEventID] = true
		f.enqueue(userCreatedMessage(t))

		f.run(t)

		assert.Zero(t, handled)
		assert.Equal(t, []string{"commit"}, f.journal)
	})

	t.Run("dedup outage fails open", func(t *testing.T) {
		f := newLoopFixture(t)
		handled := 0
		f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
			handled++
			return nil
		})
		f.dedup.lookupErr = errors.New("connection refused")
		f.enqueue(userCreatedMessage(t))

		f.run(t)

		assert.Equal(t, 1, handled)
		assert.Len(t, f.consumer.commits, 1)
	})

	t.Run("replayed message has one side effect", func(t *testing.T) {
		f := newLoopFixture(t)
		handled := 0
		f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
			handled++
			f.journal = append(f.journal, "handle")
			return nil
		})
		f.enqueue(userCreatedMessage(t))
		f.enqueue(userCreatedMessage(t))

		f.run(t)

		// The first pass writes the marker, the replay only commits.
		assert.Equal(t, 1, handled)
		assert.Equal(t, []string{"handle", "mark-processed", "commit", "commit"}, f.journal)
		assert.Empty(t, f.dlq.parked)
	})

	t.Run("marker failure still commits", func(t *testing.T) {
		f := newLoopFixture(t)
		f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
			return nil
		})
		f.dedup.markErr = errors.New("connection refused")
		f.enqueue(userCreatedMessage(t))

		f.run(t)

		assert.Len(t, f.consumer.commits, 1)
		assert.Empty(t, f.dlq.parked)
	})
}

func TestLoopRetriesTransientFailures(t *testing.T) {
	f := newLoopFixture(t)
	invocations := 0
	f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
		invocations++
		if invocations < 2 {
			return errors.New("smtp connection reset")
		}
		return nil
	})
	f.enqueue(userCreatedMessage(t))

	f.run(t)

	assert.Equal(t, 2, invocations)
	assert.Len(t, f.consumer.commits, 1)
	assert.Empty(t, f.dlq.parked)
}

func TestLoopRedelivery(t *testing.T) {
	t.Run("rewinds after retries are spent", func(t *testing.T) {
		f := newLoopFixture(t)
		invocations := 0
		f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
			invocations++
			return errors.New("smtp connection reset")
		})
		f.enqueue(userCreatedMessage(t))

		f.run(t)

		// One delivery means exactly MaxRetryAttempts invocations.
		assert.Equal(t, 3, invocations)
		require.Len(t, f.consumer.seeks, 1)
		assert.Equal(t, kafka.Offset(7), f.consumer.seeks[0].Offset)
		assert.Empty(t, f.consumer.commits)
		assert.Empty(t, f.dlq.parked)
	})

	t.Run("dead-letters once cycles are exhausted", func(t *testing.T) {
		f := newLoopFixture(t)
		f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
			return errors.New("smtp connection reset")
		})
		f.dedup.cycles = 2 // two rewinds already happened
		f.enqueue(userCreatedMessage(t))

		f.run(t)

		assert.Empty(t, f.consumer.seeks)
		require.Len(t, f.dlq.parked, 1)
		assert.Contains(t, f.dlq.causes[0].Error(), "redelivery cycles")
		assert.Len(t, f.consumer.commits, 1)
		assert.Contains(t, f.dedup.cleared, testEventID)
	})

	t.Run("counter outage parks instead of looping", func(t *testing.T) {
		f := newLoopFixture(t)
		f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
			return errors.New("smtp connection reset")
		})
		f.dedup.incrErr = errors.New("connection refused")
		f.enqueue(userCreatedMessage(t))

		f.run(t)

		assert.Empty(t, f.consumer.seeks)
		assert.Len(t, f.dlq.parked, 1)
		assert.Len(t, f.consumer.commits, 1)
	})

	t.Run("seek failure parks", func(t *testing.T) {
		f := newLoopFixture(t)
		f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
			return errors.New("smtp connection reset")
		})
		f.consumer.seekErr = kafka.NewError(kafka.ErrUnknownTopicOrPart, "no such partition", false)
		f.enqueue(userCreatedMessage(t))

		f.run(t)

		assert.Len(t, f.dlq.parked, 1)
		assert.Len(t, f.consumer.commits, 1)
	})
}

func TestLoopParksPermanentFailures(t *testing.T) {
	f := newLoopFixture(t)
	invocations := 0
	f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
		invocations++
		return Permanent(errors.New("template rendering bug"))
	})
	f.enqueue(userCreatedMessage(t))

	f.run(t)

	assert.Equal(t, 1, invocations)
	require.Len(t, f.dlq.parked, 1)
	assert.ErrorIs(t, f.dlq.causes[0], ErrPermanent)
	assert.Len(t, f.consumer.commits, 1)
	assert.Empty(t, f.consumer.seeks)
}

func TestLoopSurvivesBrokerErrors(t *testing.T) {
	f := newLoopFixture(t)
	handled := 0
	f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
		handled++
		return nil
	})
	f.enqueueError(kafka.NewError(kafka.ErrAllBrokersDown, "all brokers are down", false))
	f.enqueueError(kafka.NewError(kafka.ErrPartitionEOF, "end of partition", false))
	f.enqueueError(errors.New("not a kafka error"))
	f.enqueue(userCreatedMessage(t))

	f.run(t)

	assert.Equal(t, 1, handled)
	assert.Len(t, f.consumer.commits, 1)
}

func TestLoopShutdownLeavesOffsetUncommitted(t *testing.T) {
	f := newLoopFixture(t)
	f.handle(t, events.TypeUserCreated, func(ctx context.Context, envelope events.Envelope) error {
		f.cancel()
		return ctx.Err()
	})
	f.enqueue(userCreatedMessage(t))

	f.run(t)

	assert.Empty(t, f.consumer.commits)
	assert.Empty(t, f.dlq.parked)
}
