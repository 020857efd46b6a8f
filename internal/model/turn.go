package model

import (
	"encoding/json"
	"fmt"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r may appear in a stored history.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one role-tagged message within a conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON accepts the object form and the legacy ["role", "content"] pair.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("turn pair must have 2 elements, got %d", len(pair))
		}
		t.Role, t.Content = Role(pair[0]), pair[1]
		return nil
	}

	type plain Turn
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Turn(p)
	return nil
}

// CloneHistory returns a copy of h that shares no backing array with it.
func CloneHistory(h []Turn) []Turn {
	out := make([]Turn, len(h))
	copy(out, h)
	return out
}

// SendMessageRequest is the request to run a chat turn.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// HistoryEvent is the SSE payload carrying one emitted history state.
type HistoryEvent struct {
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
	History        []Turn `json:"history"`
}

// TurnCompleteEvent is the SSE payload sent when a turn reaches a terminal state.
type TurnCompleteEvent struct {
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
	Title          string `json:"title"`
	TitleChanged   bool   `json:"title_changed"`
	Error          string `json:"error,omitempty"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
