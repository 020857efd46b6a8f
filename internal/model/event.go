package model

import (
	"time"
)

// EventType represents the type of conversation lifecycle event.
type EventType string

const (
	EventTypeUserRegistered      EventType = "user_registered"
	EventTypeConversationCreated EventType = "conversation_created"
	EventTypeTurnCompleted       EventType = "turn_completed"
	EventTypeTurnFailed          EventType = "turn_failed"
	EventTypeTitleSet            EventType = "title_set"
)

// ConversationEvent is published to the event log after a state change.
type ConversationEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	UserID         string         `json:"user_id"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
