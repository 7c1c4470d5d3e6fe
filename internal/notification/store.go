package notification

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a notification id is unknown.
var ErrNotFound = errors.New("notification: not found")

// ListFilter narrows a List call. Zero-value fields match everything.
type ListFilter struct {
	UserID    string
	Status    Status
	EventType string
}

// Store persists notification records through their delivery lifecycle.
type Store interface {
	// Create inserts a new record, normally in StatusPending.
	Create(ctx context.Context, n *Notification) error
	// MarkSent transitions a record to StatusSent.
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	// MarkFailed transitions a record to StatusFailed with a reason.
	MarkFailed(ctx context.Context, id string, reason string) error
	Get(ctx context.Context, id string) (*Notification, error)
	// List returns matching records, newest first.
	List(ctx context.Context, filter ListFilter, limit, offset int64) ([]*Notification, error)
}
