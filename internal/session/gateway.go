// Package session provides the user-facing operations of the chat service:
// accounts, conversation selection and sending messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/internal/chat"
	"github.com/XiaoXiong127/L1-Project-2/internal/events"
	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/internal/store"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
	"github.com/XiaoXiong127/L1-Project-2/pkg/metrics"
)

// ErrTurnInProgress is returned when a message is sent to a conversation
// whose previous turn has not finished.
var ErrTurnInProgress = errors.New("a reply is still being generated for this conversation")

// Store is the part of the conversation store the gateway uses.
type Store interface {
	CreateUser(ctx context.Context, username, password string) (*model.User, error)
	Authenticate(ctx context.Context, username, password string) (*model.User, error)
	LatestOrNewConversation(ctx context.Context, userID string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, userID, title string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*model.ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
}

// Session is the state a client holds after logging in.
type Session struct {
	User         *model.User
	Conversation *model.Conversation
}

// Gateway implements the session operations. It keeps no per-user state
// apart from the set of conversations with a turn in flight.
type Gateway struct {
	store     Store
	chat      *chat.Orchestrator
	publisher events.Publisher
	log       *logger.Logger

	inflight sync.Map
}

// New creates a gateway.
func New(st Store, orchestrator *chat.Orchestrator, publisher events.Publisher, log *logger.Logger) *Gateway {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Gateway{
		store:     st,
		chat:      orchestrator,
		publisher: publisher,
		log:       log.Component("session"),
	}
}

// Register creates an account.
func (g *Gateway) Register(ctx context.Context, username, password string) (*model.User, error) {
	user, err := g.store.CreateUser(ctx, username, password)
	if err != nil {
		status := "error"
		switch {
		case errors.Is(err, store.ErrUsernameTaken):
			status = "taken"
		case errors.Is(err, store.ErrInvalidInput):
			status = "invalid"
		}
		metrics.UsersRegisteredTotal.WithLabelValues(status).Inc()
		return nil, err
	}
	metrics.UsersRegisteredTotal.WithLabelValues("ok").Inc()

	g.log.Info("user registered", zap.String("user_id", user.ID))
	events.Emit(ctx, g.publisher, g.log, events.New(model.EventTypeUserRegistered, user.ID, "", ""))
	return user, nil
}

// Login authenticates the user and resolves the conversation to show: the
// most recent one, or a fresh "New Chat" when the user has none.
func (g *Gateway) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := g.store.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	conv, err := g.store.LatestOrNewConversation(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}
	if conv.History == nil {
		conv.History = []model.Turn{}
	}

	g.log.Info("user logged in",
		zap.String("user_id", user.ID),
		zap.String("conversation_id", conv.ID),
	)
	return &Session{User: user, Conversation: conv}, nil
}

// ListConversations returns the user's conversations, newest first.
func (g *Gateway) ListConversations(ctx context.Context, userID string) ([]*model.ConversationSummary, error) {
	return g.store.ListConversations(ctx, userID)
}

// LoadConversation returns a conversation with its history. Conversations
// owned by someone else are reported as store.ErrNotFound.
func (g *Gateway) LoadConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := g.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		g.log.Warn("conversation access denied",
			zap.String("user_id", userID),
			zap.String("conversation_id", conversationID),
		)
		return nil, store.ErrNotFound
	}
	if conv.History == nil {
		conv.History = []model.Turn{}
	}
	return conv, nil
}

// NewConversation starts an empty conversation and makes it current.
func (g *Gateway) NewConversation(ctx context.Context, userID, title string) (*model.Conversation, error) {
	conv, err := g.store.CreateConversation(ctx, userID, title)
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, g.publisher, g.log, events.New(model.EventTypeConversationCreated, userID, conv.ID, ""))
	return conv, nil
}

// Logout ends the session. Tokens are stateless, so nothing is stored;
// the client drops its token and current conversation.
func (g *Gateway) Logout(_ context.Context, userID string) {
	g.log.Info("user logged out", zap.String("user_id", userID))
}

// SendMessage runs one chat turn on a conversation the user owns. Only one
// turn per conversation may run at a time.
func (g *Gateway) SendMessage(ctx context.Context, userID, conversationID, message string, emit func(chat.Update)) (*chat.TurnResult, error) {
	if _, busy := g.inflight.LoadOrStore(conversationID, struct{}{}); busy {
		return nil, ErrTurnInProgress
	}
	defer g.inflight.Delete(conversationID)

	// History is read under the guard so the turn builds on the previous one.
	conv, err := g.LoadConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	return g.chat.Run(ctx, chat.TurnRequest{
		UserID:         userID,
		ConversationID: conv.ID,
		Message:        message,
		History:        conv.History,
		TitleSet:       conv.TitleSet,
	}, emit)
}

// Busy reports whether a turn is running on the conversation.
func (g *Gateway) Busy(conversationID string) bool {
	_, ok := g.inflight.Load(conversationID)
	return ok
}
