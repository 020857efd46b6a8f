// Package store persists users and their conversations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
	"github.com/XiaoXiong127/L1-Project-2/pkg/metrics"
)

var (
	// ErrInvalidInput is returned when a required field is empty.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUsernameTaken is returned when the username is already registered.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrInvalidCredentials is returned when username and password do not match.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("not found")
)

// Store is the conversation store. It is safe for concurrent use.
type Store struct {
	driver Driver
	log    *logger.Logger
	now    func() time.Time
}

// New wraps a dialect driver.
func New(driver Driver, log *logger.Logger) *Store {
	return &Store{
		driver: driver,
		log:    log.Component("store"),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.GetDB().PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.driver.Close()
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// validID reports whether id has the shape of an identifier issued by this store.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *Store) observe(op string, start time.Time, err error) {
	metrics.RecordStoreOp(op, err, time.Since(start).Seconds())
	if err != nil && !isDomainError(err) {
		s.log.Error("store operation failed", zap.String("operation", op), zap.Error(err))
	}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUsernameTaken) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrNotFound)
}
