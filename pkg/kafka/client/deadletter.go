package client

import (
	"encoding/json"
	"time"
)

// DeadLetterEntry is the wire format of a parked message. The original
// payload is preserved verbatim so it can be inspected or replayed.
type DeadLetterEntry struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	Error           string          `json:"error"`
	Timestamp       time.Time       `json:"timestamp"`
	Service         string          `json:"service"`
}

func newDeadLetterEntry(original []byte, procErr error, service string) DeadLetterEntry {
	entry := DeadLetterEntry{
		Error:     procErr.Error(),
		Timestamp: time.Now().UTC(),
		Service:   service,
	}
	// Payloads that fail to decode are not valid JSON and would corrupt
	// the entry if embedded raw, so those are re-encoded as a string.
	if json.Valid(original) {
		entry.OriginalMessage = json.RawMessage(original)
	} else {
		quoted, _ := json.Marshal(string(original))
		entry.OriginalMessage = quoted
	}
	return entry
}
