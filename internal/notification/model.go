package notification

import "time"

// Status is the delivery state of a notification record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Notification is one outbound message derived from a consumed event.
type Notification struct {
	ID            string     `bson:"_id"`
	UserID        string     `bson:"user_id"`
	Recipient     string     `bson:"recipient"`
	Channel       string     `bson:"channel"`
	Subject       string     `bson:"subject"`
	Content       string     `bson:"content"`
	Status        Status     `bson:"status"`
	EventID       string     `bson:"event_id"`
	EventType     string     `bson:"event_type"`
	CreatedAt     time.Time  `bson:"created_at"`
	SentAt        *time.Time `bson:"sent_at,omitempty"`
	FailureReason string     `bson:"failure_reason,omitempty"`
}
