package store

import (
	"context"
	"database/sql"

	"github.com/XiaoXiong127/L1-Project-2/internal/model"
)

// Driver is implemented by each SQL dialect. Every method acquires its own
// pooled connection for one unit of work and releases it before returning.
// Get methods return (nil, nil) when no row matches.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error
	IsUniqueViolation(err error) bool

	CreateUser(ctx context.Context, create *model.User) (*model.User, error)
	GetUser(ctx context.Context, find *FindUser) (*model.User, error)

	CreateConversation(ctx context.Context, create *model.Conversation) (*model.Conversation, error)
	// LatestOrCreateConversation returns the newest conversation of
	// create.UserID, inserting create in the same transaction when there is none.
	LatestOrCreateConversation(ctx context.Context, create *model.Conversation) (*model.Conversation, bool, error)
	ListConversations(ctx context.Context, userID string) ([]*model.ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// UpdateHistory reports false when no conversation has the id.
	UpdateHistory(ctx context.Context, id string, history []model.Turn) (bool, error)
	// SetTitleOnce reports whether the title latch was taken by this call.
	SetTitleOnce(ctx context.Context, id, title string) (bool, error)
}

// FindUser selects a user by id or username.
type FindUser struct {
	ID       *string
	Username *string
}
