package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const collectionName = "notifications"

// MongoConfig is the notification store configuration.
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
	QueryTimeout   time.Duration `mapstructure:"query-timeout"`
}

func newMongoConfig(v *viper.Viper) (MongoConfig, error) {
	var conf MongoConfig
	if err := v.UnmarshalKey("mongo", &conf); err != nil {
		return MongoConfig{}, fmt.Errorf("failed to unmarshal mongo config: %w", err)
	}
	if conf.URI == "" {
		return MongoConfig{}, fmt.Errorf("mongo uri is required")
	}
	if conf.Database == "" {
		conf.Database = "notifications"
	}
	if conf.ConnectTimeout == 0 {
		conf.ConnectTimeout = 10 * time.Second
	}
	if conf.QueryTimeout == 0 {
		conf.QueryTimeout = 10 * time.Second
	}
	return conf, nil
}

// mongoStore is the production Store backed by MongoDB.
type mongoStore struct {
	collection *mongo.Collection
	timeout    time.Duration
}

func newMongoStore(client *mongo.Client, conf MongoConfig) *mongoStore {
	return &mongoStore{
		collection: client.Database(conf.Database).Collection(collectionName),
		timeout:    conf.QueryTimeout,
	}
}

func (s *mongoStore) Create(ctx context.Context, n *Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, n); err != nil {
		return fmt.Errorf("insert notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *mongoStore) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	return s.setStatus(ctx, id, bson.M{
		"status":  StatusSent,
		"sent_at": sentAt,
	})
}

func (s *mongoStore) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.setStatus(ctx, id, bson.M{
		"status":         StatusFailed,
		"failure_reason": reason,
	})
}

func (s *mongoStore) setStatus(ctx context.Context, id string, fields bson.M) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update notification %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("update notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *mongoStore) Get(ctx context.Context, id string) (*Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n Notification
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification %s: %w", id, err)
	}
	return &n, nil
}

func (s *mongoStore) List(ctx context.Context, filter ListFilter, limit, offset int64) ([]*Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := bson.M{}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.EventType != "" {
		query["event_type"] = filter.EventType
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)
	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var notifications []*Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return notifications, nil
}
