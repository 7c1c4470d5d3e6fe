package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformed means the message value is not a valid event envelope.
	ErrMalformed = errors.New("events: malformed event")
	// ErrValidation means the envelope or payload misses required fields.
	ErrValidation = errors.New("events: invalid event")
	// ErrUnknownEventType means the event type carries no known schema.
	ErrUnknownEventType = errors.New("events: unknown event type")
)

// Envelope is the wire format shared by every event on the bus. Data
// stays raw until the type-specific schema is applied.
type Envelope struct {
	EventID       string          `json:"event_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	EventType     string          `json:"event_type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       string          `json:"version"`
	Data          json.RawMessage `json:"data"`
}

// Decode parses a raw message value into an envelope. It fails on
// malformed JSON, including a timestamp that is not RFC 3339.
func Decode(raw []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return envelope, nil
}

// Validate checks the structural envelope contract. Payload schemas are
// applied separately by DecodePayload.
func (e Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("%w: missing event_id", ErrValidation)
	}
	if e.EventType == "" {
		return fmt.Errorf("%w: missing event_type", ErrValidation)
	}
	if e.Source == "" {
		return fmt.Errorf("%w: missing source", ErrValidation)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrValidation)
	}
	return nil
}
