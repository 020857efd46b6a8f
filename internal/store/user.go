package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/internal/credential"
	"github.com/XiaoXiong127/L1-Project-2/internal/model"
)

// CreateUser registers a new account. The existence pre-check leaves a
// race window; concurrent losers are caught by the unique constraint and
// reported as ErrUsernameTaken as well.
func (s *Store) CreateUser(ctx context.Context, username, password string) (user *model.User, err error) {
	defer func(start time.Time) { s.observe("create_user", start, err) }(time.Now())

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	existing, err := s.driver.GetUser(ctx, &FindUser{Username: &username})
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := credential.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	user, err = s.driver.CreateUser(ctx, &model.User{
		ID:           newID(),
		Username:     username,
		PasswordHash: hash,
	})
	if err != nil {
		if s.driver.IsUniqueViolation(err) {
			s.log.Info("registration lost race on unique username", zap.String("username", username))
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Authenticate returns the user whose username and password match.
func (s *Store) Authenticate(ctx context.Context, username, password string) (user *model.User, err error) {
	defer func(start time.Time) { s.observe("authenticate", start, err) }(time.Now())

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err = s.driver.GetUser(ctx, &FindUser{Username: &username})
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !credential.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
