package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"fincon/internal/cache"
)

// InvalidationMessage tells other web instances to drop cached reads.
// Origin identifies the publishing instance so it can skip its own echo.
type InvalidationMessage struct {
	Origin    string       `json:"origin"`
	Scope     string       `json:"scope"`
	Keys      []cache.Key  `json:"keys,omitempty"`
	Kinds     []cache.Kind `json:"kinds,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewInvalidationMessage wraps a local invalidation for broadcast.
func NewInvalidationMessage(origin string, inv cache.Invalidation) *InvalidationMessage {
	return &InvalidationMessage{
		Origin:    origin,
		Scope:     inv.Scope,
		Keys:      inv.Keys,
		Kinds:     inv.Kinds,
		Timestamp: time.Now(),
	}
}

// Invalidation converts the message back to a cache invalidation.
func (m *InvalidationMessage) Invalidation() cache.Invalidation {
	return cache.Invalidation{Scope: m.Scope, Keys: m.Keys, Kinds: m.Kinds}
}

// ToJSON converts the message to JSON bytes
func (m *InvalidationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvalidationMessageFromJSON decodes and sanity-checks a message body.
func InvalidationMessageFromJSON(data []byte) (*InvalidationMessage, error) {
	var msg InvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Origin == "" {
		return nil, errors.New("invalidation message without origin")
	}
	return &msg, nil
}
