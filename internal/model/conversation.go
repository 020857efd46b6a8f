// Package model defines data structures shared by the chat services.
package model

import (
	"time"
)

// DefaultConversationTitle is the title of a conversation before one is derived.
const DefaultConversationTitle = "New Chat"

// TitleMaxRunes bounds the title derived from the first user message.
const TitleMaxRunes = 20

// Conversation is a titled, ordered history owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	History   []Turn    `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	TitleSet  bool      `json:"title_set"`
}

// ConversationSummary is one row of a conversation listing.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []*ConversationSummary `json:"conversations"`
	Total         int                    `json:"total"`
}

// DeriveTitle returns the first user message truncated to TitleMaxRunes runes.
func DeriveTitle(history []Turn) string {
	for _, t := range history {
		if t.Role != RoleUser {
			continue
		}
		r := []rune(t.Content)
		if len(r) > TitleMaxRunes {
			r = r[:TitleMaxRunes]
		}
		return string(r)
	}
	return ""
}
