package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/pkg/metrics"
)

// LatestOrNewConversation returns the user's most recently created
// conversation. When the user has none, a "New Chat" conversation is created
// in the same transaction.
func (s *Store) LatestOrNewConversation(ctx context.Context, userID string) (conv *model.Conversation, err error) {
	defer func(start time.Time) { s.observe("latest_or_new_conversation", start, err) }(time.Now())

	if userID == "" {
		return nil, ErrInvalidInput
	}
	if !validID(userID) {
		return nil, ErrNotFound
	}
	conv, created, err := s.driver.LatestOrCreateConversation(ctx, s.newConversation(userID, model.DefaultConversationTitle))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve latest conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	if created {
		metrics.ConversationsTotal.WithLabelValues("login").Inc()
	}
	return conv, nil
}

// CreateConversation starts an empty conversation. An empty title becomes "New Chat".
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (conv *model.Conversation, err error) {
	defer func(start time.Time) { s.observe("create_conversation", start, err) }(time.Now())

	if userID == "" {
		return nil, ErrInvalidInput
	}
	if !validID(userID) {
		return nil, ErrNotFound
	}
	if title = strings.TrimSpace(title); title == "" {
		title = model.DefaultConversationTitle
	}
	conv, err = s.driver.CreateConversation(ctx, s.newConversation(userID, title))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	metrics.ConversationsTotal.WithLabelValues("explicit").Inc()
	return conv, nil
}

// ListConversations returns the user's conversations, newest first.
func (s *Store) ListConversations(ctx context.Context, userID string) (list []*model.ConversationSummary, err error) {
	defer func(start time.Time) { s.observe("list_conversations", start, err) }(time.Now())

	if !validID(userID) {
		return []*model.ConversationSummary{}, nil
	}
	list, err = s.driver.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if list == nil {
		list = []*model.ConversationSummary{}
	}
	return list, nil
}

// GetConversation loads one conversation including its history.
func (s *Store) GetConversation(ctx context.Context, id string) (conv *model.Conversation, err error) {
	defer func(start time.Time) { s.observe("get_conversation", start, err) }(time.Now())

	if !validID(id) {
		return nil, ErrNotFound
	}
	conv, err = s.driver.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	return conv, nil
}

// LoadHistory returns the stored history, or an empty slice when the
// conversation has none or does not exist.
func (s *Store) LoadHistory(ctx context.Context, id string) (history []model.Turn, err error) {
	defer func(start time.Time) { s.observe("load_history", start, err) }(time.Now())

	if !validID(id) {
		return []model.Turn{}, nil
	}
	conv, err := s.driver.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if conv == nil || conv.History == nil {
		return []model.Turn{}, nil
	}
	return conv.History, nil
}

// ReplaceHistory overwrites the stored history. Concurrent writers are last-writer-wins.
func (s *Store) ReplaceHistory(ctx context.Context, id string, history []model.Turn) (err error) {
	defer func(start time.Time) { s.observe("replace_history", start, err) }(time.Now())

	if !validID(id) {
		return ErrNotFound
	}
	for _, t := range history {
		if !t.Role.Valid() {
			return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, t.Role)
		}
	}
	ok, err := s.driver.UpdateHistory(ctx, id, history)
	if err != nil {
		return fmt.Errorf("failed to replace history: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// SetTitleOnce sets the title only if no title has been set before, using
// a single conditional update. It reports whether this call set the title.
func (s *Store) SetTitleOnce(ctx context.Context, id, title string) (set bool, err error) {
	defer func(start time.Time) { s.observe("set_title_once", start, err) }(time.Now())

	if !validID(id) {
		return false, ErrNotFound
	}
	set, err = s.driver.SetTitleOnce(ctx, id, title)
	if err != nil {
		return false, fmt.Errorf("failed to set title: %w", err)
	}
	return set, nil
}

func (s *Store) newConversation(userID, title string) *model.Conversation {
	return &model.Conversation{
		ID:        newID(),
		UserID:    userID,
		Title:     title,
		History:   []model.Turn{},
		CreatedAt: s.now(),
	}
}
