package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	dedupKeyPrefix      = "event:"
	redeliveryKeyPrefix = "redeliveries:"
)

// redisClient is the subset of *redis.Client the store uses.
type redisClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store tracks processed event ids and redelivery cycle counters in
// Redis. Lookups degrade to fail-open: a Redis outage must never stop
// the pipeline, at the price of possible duplicate handling.
type Store struct {
	client redisClient
	conf   Config
	log    *zap.Logger
}

func NewStore(client redisClient, conf Config, log *zap.Logger) *Store {
	return &Store{
		client: client,
		conf:   conf,
		log:    log,
	}
}

// IsDuplicate reports whether the event id was already processed. The
// error is informational, callers treat it as "not a duplicate".
func (s *Store) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, dedupKeyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup for %s: %w", eventID, err)
	}
	return n > 0, nil
}

// MarkProcessed records the event id so later deliveries are skipped.
// The marker expires after the configured TTL.
func (s *Store) MarkProcessed(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, dedupKeyPrefix+eventID, 1, s.conf.DedupTTL).Err(); err != nil {
		return fmt.Errorf("mark %s processed: %w", eventID, err)
	}
	return nil
}

// IncrRedeliveries bumps the redelivery cycle counter for the event and
// returns the new count. The counter gets its TTL on first use.
func (s *Store) IncrRedeliveries(ctx context.Context, eventID string) (int64, error) {
	key := redeliveryKeyPrefix + eventID
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("count redelivery of %s: %w", eventID, err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, s.conf.RedeliveryTTL).Err(); err != nil {
			s.log.Warn("failed to set redelivery counter ttl",
				zap.String("event_id", eventID), zap.Error(err))
		}
	}
	return count, nil
}

// ClearRedeliveries drops the cycle counter once the event leaves the
// pipeline, whether handled or dead-lettered.
func (s *Store) ClearRedeliveries(ctx context.Context, eventID string) {
	if err := s.client.Del(ctx, redeliveryKeyPrefix+eventID).Err(); err != nil {
		s.log.Warn("failed to clear redelivery counter",
			zap.String("event_id", eventID), zap.Error(err))
	}
}
