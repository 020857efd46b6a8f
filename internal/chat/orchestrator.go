// Package chat runs a single chat turn against the completion endpoint and
// persists the resulting history.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/internal/completion"
	"github.com/XiaoXiong127/L1-Project-2/internal/events"
	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
	"github.com/XiaoXiong127/L1-Project-2/pkg/metrics"
	"github.com/XiaoXiong127/L1-Project-2/pkg/tracing"
)

var (
	// ErrTransportFailure covers dial errors, non-2xx responses, early
	// stream closes and explicit stop-with-error events.
	ErrTransportFailure = errors.New("completion transport failure")
	// ErrMalformedEvent is reported when the endpoint keeps sending
	// unparseable events, or a batch response cannot be parsed.
	ErrMalformedEvent = errors.New("malformed completion event")
	// ErrStoreFailure is reported when the finished history could not be persisted.
	ErrStoreFailure = errors.New("failed to persist conversation")
	// ErrEmptyMessage is returned before any emission when the user message is blank.
	ErrEmptyMessage = errors.New("message is empty")
)

// Mode selects how the completion endpoint is consumed.
type Mode string

const (
	ModeStreaming Mode = "streaming"
	ModeBatch     Mode = "batch"
)

// State is a turn's position in its lifecycle.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingFirstToken State = "awaiting_first_token"
	StateStreaming          State = "streaming"
	StateFinalizing         State = "finalizing"
	StatePersisted          State = "persisted"
	StateFailed             State = "failed"
)

// DefaultMaxMalformedEvents bounds consecutive unparseable stream events.
const DefaultMaxMalformedEvents = 5

const persistTimeout = 10 * time.Second

// HistoryStore is the part of the conversation store a turn writes to.
type HistoryStore interface {
	ReplaceHistory(ctx context.Context, conversationID string, history []model.Turn) error
	SetTitleOnce(ctx context.Context, conversationID, title string) (bool, error)
}

// TurnRequest carries everything a turn needs; the orchestrator keeps no
// state between turns.
type TurnRequest struct {
	UserID         string
	ConversationID string
	Message        string
	History        []model.Turn
	TitleSet       bool
}

// Update is one emitted history state. History is owned by the receiver.
type Update struct {
	State   State
	History []model.Turn
}

// TurnResult is the terminal outcome of a turn.
type TurnResult struct {
	State        State
	History      []model.Turn
	Title        string
	TitleChanged bool
	Fragments    int
}

// Options tunes an Orchestrator.
type Options struct {
	Mode               Mode
	MaxMalformedEvents int
	Publisher          events.Publisher
}

// Orchestrator drives chat turns. It is safe for concurrent use across
// conversations; callers serialize turns within one conversation.
type Orchestrator struct {
	client       *completion.Client
	store        HistoryStore
	publisher    events.Publisher
	mode         Mode
	maxMalformed int
	log          *logger.Logger
}

// New creates an orchestrator.
func New(client *completion.Client, store HistoryStore, log *logger.Logger, opts Options) *Orchestrator {
	if opts.Mode == "" {
		opts.Mode = ModeStreaming
	}
	if opts.MaxMalformedEvents <= 0 {
		opts.MaxMalformedEvents = DefaultMaxMalformedEvents
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	return &Orchestrator{
		client:       client,
		store:        store,
		publisher:    opts.Publisher,
		mode:         opts.Mode,
		maxMalformed: opts.MaxMalformedEvents,
		log:          log.Component("chat"),
	}
}

// Mode returns the configured transport mode.
func (o *Orchestrator) Mode() Mode {
	return o.mode
}

// turn holds the mutable state of one Run call.
type turn struct {
	req       TurnRequest
	history   []model.Turn
	raw       strings.Builder
	state     State
	fragments int
	emit      func(Update)
	log       *logger.Logger
}

func (t *turn) publish(state State) {
	t.state = state
	if t.emit != nil {
		t.emit(Update{State: state, History: model.CloneHistory(t.history)})
	}
}

func (t *turn) setAssistant(content string) {
	t.history[len(t.history)-1].Content = content
}

// Run executes one turn. emit receives every history state in order: the
// placeholder, then one update per content fragment, then the final
// state. The returned result is never nil once the turn has started; the
// error is non-nil when the turn ended in StateFailed.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest, emit func(Update)) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	start := time.Now()
	ctx, span := tracing.Start(ctx, "chat.turn",
		attribute.String("conversation.id", req.ConversationID),
		attribute.String("chat.mode", string(o.mode)),
	)
	defer span.End()

	t := &turn{
		req:   req,
		state: StateIdle,
		emit:  emit,
		log: o.log.With(
			zap.String("conversation_id", req.ConversationID),
			zap.String("user_id", req.UserID),
		),
	}
	t.history = append(model.CloneHistory(req.History),
		model.Turn{Role: model.RoleUser, Content: req.Message},
		model.Turn{Role: model.RoleAssistant, Content: Placeholder},
	)
	t.publish(StateAwaitingFirstToken)

	var turnErr error
	if o.mode == ModeBatch {
		turnErr = o.runBatch(ctx, t)
	} else {
		turnErr = o.runStreaming(ctx, t)
	}

	rendered := Render(t.raw.String())
	if turnErr != nil {
		marker := TransportFailureMarker
		if errors.Is(turnErr, ErrMalformedEvent) {
			marker = MalformedMarker
		}
		t.setAssistant(tagFailure(rendered, marker))
		t.log.Warn("chat turn failed", zap.Int("fragments", t.fragments), zap.Error(turnErr))
	} else {
		t.setAssistant(rendered)
	}
	t.state = StateFinalizing

	result := &TurnResult{Fragments: t.fragments}
	if err := o.finalize(ctx, t, result); err != nil {
		turnErr = errors.Join(turnErr, err)
	}

	result.State = StatePersisted
	if turnErr != nil {
		result.State = StateFailed
		span.RecordError(turnErr)
		span.SetStatus(codes.Error, turnErr.Error())
	}
	result.History = model.CloneHistory(t.history)
	t.publish(result.State)

	metrics.RecordTurn(string(o.mode), string(result.State), time.Since(start).Seconds(), t.fragments)
	o.emitOutcome(ctx, t, result, turnErr)
	t.log.Debug("chat turn finished",
		zap.String("state", string(result.State)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, turnErr
}

// finalize persists the history and derives the title. Persistence runs
// detached from ctx so a client hanging up does not lose the turn.
func (o *Orchestrator) finalize(ctx context.Context, t *turn, result *TurnResult) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := o.store.ReplaceHistory(ctx, t.req.ConversationID, t.history); err != nil {
		t.log.Error("failed to persist history", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	if t.req.TitleSet {
		return nil
	}
	title := model.DeriveTitle(t.history)
	if title == "" {
		return nil
	}
	set, err := o.store.SetTitleOnce(ctx, t.req.ConversationID, title)
	if err != nil {
		t.log.Error("failed to set title", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	if set {
		result.Title = title
		result.TitleChanged = true
	}
	return nil
}

func (o *Orchestrator) emitOutcome(ctx context.Context, t *turn, result *TurnResult, turnErr error) {
	ctx = context.WithoutCancel(ctx)
	if result.TitleChanged {
		events.Emit(ctx, o.publisher, t.log, events.New(model.EventTypeTitleSet, t.req.UserID, t.req.ConversationID, result.Title))
	}
	if turnErr != nil {
		events.Emit(ctx, o.publisher, t.log, events.New(model.EventTypeTurnFailed, t.req.UserID, t.req.ConversationID, turnErr.Error()))
		return
	}
	events.Emit(ctx, o.publisher, t.log, events.New(model.EventTypeTurnCompleted, t.req.UserID, t.req.ConversationID, ""))
}

func (o *Orchestrator) request(t *turn) *completion.Request {
	// The trailing placeholder is not part of the prompt.
	prompt := t.history[:len(t.history)-1]
	msgs := make([]completion.Message, 0, len(prompt))
	for _, turn := range prompt {
		msgs = append(msgs, completion.Message{Role: string(turn.Role), Content: turn.Content})
	}
	return &completion.Request{
		Messages:       msgs,
		UserID:         t.req.UserID,
		ConversationID: t.req.ConversationID,
	}
}

// streamEvent is one OpenAI-style chunk; some servers report failures
// in-band with an error object instead of a status code.
type streamEvent struct {
	openai.ChatCompletionStreamResponse
	Error *eventError `json:"error,omitempty"`
}

type eventError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (o *Orchestrator) runStreaming(ctx context.Context, t *turn) error {
	stream, err := o.client.Stream(ctx, o.request(t))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}
	defer stream.Close()

	malformed := 0
	for {
		payload, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: stream closed before a stop signal", ErrTransportFailure)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransportFailure, err)
		}
		if payload == completion.DoneMarker {
			return nil
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			malformed++
			metrics.MalformedEventsTotal.Inc()
			t.log.Warn("skipping malformed completion event",
				zap.Int("consecutive", malformed),
				zap.String("payload", truncate(payload, 200)),
				zap.Error(err),
			)
			if malformed > o.maxMalformed {
				return fmt.Errorf("%w: %w: %d consecutive events", ErrTransportFailure, ErrMalformedEvent, malformed)
			}
			continue
		}
		malformed = 0

		if ev.Error != nil {
			return fmt.Errorf("%w: endpoint reported error: %s", ErrTransportFailure, ev.Error.Message)
		}
		if len(ev.Choices) == 0 {
			continue
		}

		choice := ev.Choices[0]
		if delta := choice.Delta.Content; delta != "" {
			t.raw.WriteString(delta)
			t.fragments++
			t.setAssistant(Render(t.raw.String()))
			t.publish(StateStreaming)
		}

		switch choice.FinishReason {
		case "":
		case "error":
			return fmt.Errorf("%w: endpoint stopped with error", ErrTransportFailure)
		default:
			return nil
		}
	}
}

type batchResponse struct {
	openai.ChatCompletionResponse
	Error *eventError `json:"error,omitempty"`
}

func (o *Orchestrator) runBatch(ctx context.Context, t *turn) error {
	body, err := o.client.Complete(ctx, o.request(t))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}

	var resp batchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.MalformedEventsTotal.Inc()
		return fmt.Errorf("%w: %w: %v", ErrTransportFailure, ErrMalformedEvent, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: endpoint reported error: %s", ErrTransportFailure, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: %w: response has no choices", ErrTransportFailure, ErrMalformedEvent)
	}

	t.raw.WriteString(resp.Choices[0].Message.Content)
	t.fragments++
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
