package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
)

func TestEventSubject(t *testing.T) {
	assert.Equal(t, "chat.u1.c1.turn_completed", EventSubject("u1", "c1", model.EventTypeTurnCompleted))
	assert.Equal(t, "chat.u1._.user_registered", EventSubject("u1", "", model.EventTypeUserRegistered))
	assert.Equal(t, "chat.u1.>", UserFilter("u1"))
}

func TestNewEvent(t *testing.T) {
	a := New(model.EventTypeTurnFailed, "u1", "c1", "timeout")
	b := New(model.EventTypeTurnFailed, "u1", "c1", "timeout")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, model.EventTypeTurnFailed, a.Type)
	assert.Equal(t, "timeout", a.Reason)
	assert.False(t, a.CreatedAt.IsZero())
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, *model.ConversationEvent) error {
	return errors.New("nats down")
}

func TestEmit(t *testing.T) {
	ctx := context.Background()
	mem := &Memory{}

	Emit(ctx, mem, logger.Nop(), New(model.EventTypeConversationCreated, "u1", "c1", ""))
	Emit(ctx, mem, logger.Nop(), New(model.EventTypeTitleSet, "u1", "c1", ""))
	assert.Equal(t, []model.EventType{model.EventTypeConversationCreated, model.EventTypeTitleSet}, mem.Types())

	require.NotPanics(t, func() {
		Emit(ctx, failingPublisher{}, logger.Nop(), New(model.EventTypeTurnFailed, "u1", "c1", ""))
		Emit(ctx, nil, logger.Nop(), New(model.EventTypeTurnFailed, "u1", "c1", ""))
		Emit(ctx, Noop{}, logger.Nop(), New(model.EventTypeTurnFailed, "u1", "c1", ""))
	})
}

func TestCreateTLSConfigMissingFiles(t *testing.T) {
	_, err := createTLSConfig("/nonexistent/ca.pem", "/nonexistent/cert.pem", "/nonexistent/key.pem")
	assert.Error(t, err)
}
