package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
	"github.com/XiaoXiong127/L1-Project-2/pkg/metrics"
)

// Publisher sends lifecycle events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event *model.ConversationEvent) error
}

// New builds an event with a fresh id and timestamp.
func New(eventType model.EventType, userID, conversationID, reason string) *model.ConversationEvent {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &model.ConversationEvent{
		ID:             id.String(),
		ConversationID: conversationID,
		UserID:         userID,
		Type:           eventType,
		Reason:         reason,
		CreatedAt:      time.Now().UTC(),
	}
}

// Emit publishes event on p and only logs failures. The event log is
// advisory and never fails the operation that produced it.
func Emit(ctx context.Context, p Publisher, log *logger.Logger, event *model.ConversationEvent) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), "error").Inc()
		log.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("conversation_id", event.ConversationID),
			zap.Error(err),
		)
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), "ok").Inc()
}

// Noop discards events. Used when NATS is disabled.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, *model.ConversationEvent) error { return nil }

// Memory keeps published events in process, for tests and local runs.
type Memory struct {
	mu     sync.Mutex
	events []*model.ConversationEvent
}

// Publish implements Publisher.
func (m *Memory) Publish(_ context.Context, event *model.ConversationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a snapshot of everything published so far.
func (m *Memory) Events() []*model.ConversationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.ConversationEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Types lists the types of published events in order.
func (m *Memory) Types() []model.EventType {
	var out []model.EventType
	for _, e := range m.Events() {
		out = append(out, e.Type)
	}
	return out
}
