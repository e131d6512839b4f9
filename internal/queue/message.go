// Package queue delivers ingestion requests through a Redis list with
// at-least-once semantics.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one queued ingestion request
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	// raw is the encoded form the message was read as; LREM needs it verbatim
	raw string
}

// NewMessage creates a message for the given type tag and payload
func NewMessage(typ string, payload []byte) *Message {
	return &Message{
		ID:         uuid.New().String(),
		Type:       typ,
		Payload:    json.RawMessage(payload),
		EnqueuedAt: time.Now().UTC(),
	}
}

func (m *Message) encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode message %s: %w", m.ID, err)
	}
	return string(b), nil
}

func decodeMessage(raw string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	m.raw = raw
	return &m, nil
}
