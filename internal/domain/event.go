package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventTypeMessage  EventType = "message"
	EventTypeReaction EventType = "reaction"
	EventTypeEvent    EventType = "event"
)

// Event is one inbound platform event, tagged with the listener it arrived on.
type Event struct {
	ListenerID ListenerID      `json:"listener_id"`
	Type       EventType       `json:"type"`
	ThreadID   string          `json:"thread_id,omitempty"`
	SenderID   string          `json:"sender_id,omitempty"`
	MessageID  string          `json:"message_id,omitempty"`
	Body       string          `json:"body,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}
