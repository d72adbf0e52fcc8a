// Package wire implements the wire envelope and message-type catalogue from
// spec.md §6: every WebSocket frame is `{id, type, timestamp?, requestId?,
// content}`.
package wire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the base frame every WebSocket message uses.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Content   json.RawMessage `json:"content"`
}

// NewID generates a UUIDv4 for use as an envelope id.
func NewID() string {
	return uuid.New().String()
}

// New builds an envelope with a fresh id and the given type/content.
func New(msgType string, content interface{}) (*Envelope, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        NewID(),
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Content:   data,
	}, nil
}

// Reply builds a response envelope whose RequestID echoes the original
// envelope's id, per spec.md §6 ("Responses set requestId equal to the
// original id").
func Reply(requestID, msgType string, content interface{}) (*Envelope, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        NewID(),
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID: requestID,
		Content:   data,
	}, nil
}

// ErrorContent is the payload of an `error` envelope (spec.md §7).
type ErrorContent struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewError builds an `error` reply envelope referencing requestID.
func NewError(requestID, code, message string, details map[string]interface{}) (*Envelope, error) {
	return Reply(requestID, TypeError, ErrorContent{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// Decode unmarshals the envelope's content into v.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Content) == 0 {
		return nil
	}
	return json.Unmarshal(e.Content, v)
}
