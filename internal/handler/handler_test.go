package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/XiaoXiong127/L1-Project-2/internal/chat"
	"github.com/XiaoXiong127/L1-Project-2/internal/completion"
	"github.com/XiaoXiong127/L1-Project-2/internal/credential"
	"github.com/XiaoXiong127/L1-Project-2/internal/llm"
	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/internal/rag"
	"github.com/XiaoXiong127/L1-Project-2/internal/session"
	"github.com/XiaoXiong127/L1-Project-2/internal/store"
	"github.com/XiaoXiong127/L1-Project-2/internal/store/db/sqlite"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
)

const jwtSecret = "handler-test-secret"

// fakeLLM streams a fixed list of tokens, optionally failing afterwards.
type fakeLLM struct {
	mu      sync.Mutex
	tokens  []string
	failErr error
	lastReq *llm.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	return &llm.CompletionResponse{Content: strings.Join(f.tokens, ""), Model: "fake-model", TokensIn: 3, TokensOut: len(f.tokens)}, nil
}

func (f *fakeLLM) CompleteStream(_ context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	for i, tok := range f.tokens {
		if err := cb(tok, i); err != nil {
			return nil, err
		}
	}
	if f.failErr != nil {
		return nil, f.failErr
	}
	return &llm.CompletionResponse{Content: strings.Join(f.tokens, ""), Model: "fake-model"}, nil
}

func (f *fakeLLM) Name() string  { return "fake" }
func (f *fakeLLM) Model() string { return "fake-model" }

func (f *fakeLLM) request() *llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type staticSearcher []rag.Hit

func (s staticSearcher) Search(context.Context, string, int) ([]rag.Hit, error) { return s, nil }

type apiFixture struct {
	api  *httptest.Server
	llm  *fakeLLM
	st   *store.Store
	mode chat.Mode
}

func newAPIFixture(t *testing.T, mode chat.Mode, tokens ...string) *apiFixture {
	t.Helper()
	credential.Cost = bcrypt.MinCost

	fake := &fakeLLM{tokens: tokens}
	retriever := rag.NewRetriever(staticSearcher{{ID: "1", Content: "血压：140/90"}}, 5, logger.Nop())
	ragSrv := httptest.NewServer(NewCompletionRouter(NewCompletionHandler(fake, retriever, logger.Nop()), logger.Nop()))
	t.Cleanup(ragSrv.Close)

	d, err := sqlite.NewDB(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	st := store.New(d, logger.Nop())
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	orch := chat.New(completion.New(ragSrv.URL+"/v1/chat/completions", 5*time.Second), st, logger.Nop(), chat.Options{Mode: mode})
	gw := session.New(st, orch, nil, logger.Nop())

	api := httptest.NewServer(NewAPIRouter(APIConfig{
		Gateway:   gw,
		Health:    NewHealthHandler(st, nil),
		Logger:    logger.Nop(),
		JWTSecret: jwtSecret,
		TokenTTL:  time.Hour,
	}))
	t.Cleanup(api.Close)

	return &apiFixture{api: api, llm: fake, st: st, mode: mode}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.api.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *apiFixture) registerAndLogin(t *testing.T, username string) *model.LoginResponse {
	t.Helper()
	creds := model.CredentialsRequest{Username: username, Password: "secret"}
	resp := f.do(t, http.MethodPost, "/api/v1/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/auth/login", "", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[model.LoginResponse](t, resp)
	return &login
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.data != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func TestAuthFlow(t *testing.T) {
	f := newAPIFixture(t, chat.ModeStreaming, "hi")

	resp := f.do(t, http.MethodPost, "/api/v1/auth/register", "", model.CredentialsRequest{Username: "", Password: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	login := f.registerAndLogin(t, "alice")
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, "alice", login.User.Username)
	require.NotNil(t, login.Conversation)
	assert.Equal(t, model.DefaultConversationTitle, login.Conversation.Title)

	resp = f.do(t, http.MethodPost, "/api/v1/auth/register", "", model.CredentialsRequest{Username: "alice", Password: "other"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/auth/login", "", model.CredentialsRequest{Username: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/auth/logout", login.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/auth/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConversationEndpoints(t *testing.T) {
	f := newAPIFixture(t, chat.ModeStreaming, "hi")
	alice := f.registerAndLogin(t, "alice")
	bob := f.registerAndLogin(t, "bob")

	resp := f.do(t, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/conversations", alice.Token, model.CreateConversationRequest{Title: "Blood pressure"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[model.Conversation](t, resp)
	assert.Equal(t, "Blood pressure", created.Title)

	resp = f.do(t, http.MethodPost, "/api/v1/conversations", alice.Token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	untitled := decode[model.Conversation](t, resp)
	assert.Equal(t, model.DefaultConversationTitle, untitled.Title)

	resp = f.do(t, http.MethodGet, "/api/v1/conversations", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[model.ListConversationsResponse](t, resp)
	require.Equal(t, 3, list.Total)
	assert.Equal(t, untitled.ID, list.Conversations[0].ID)

	resp = f.do(t, http.MethodGet, "/api/v1/conversations/"+created.ID, alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.Conversation](t, resp)
	assert.Equal(t, created.ID, got.ID)
	assert.NotNil(t, got.History)

	resp = f.do(t, http.MethodGet, "/api/v1/conversations/"+created.ID, bob.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/conversations/not-a-uuid", alice.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessageStreamsHistory(t *testing.T) {
	for _, mode := range []chat.Mode{chat.ModeStreaming, chat.ModeBatch} {
		t.Run(string(mode), func(t *testing.T) {
			f := newAPIFixture(t, mode, "<think>", "查阅档案", "</think>", "Hel", "lo")
			alice := f.registerAndLogin(t, "alice")
			convID := alice.Conversation.ID

			resp := f.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", alice.Token, model.SendMessageRequest{Content: "张三九的血压是多少"})
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

			events := readEvents(t, resp)
			require.GreaterOrEqual(t, len(events), 3)

			first := events[0]
			assert.Equal(t, EventHistory, first.name)
			var placeholder model.HistoryEvent
			require.NoError(t, json.Unmarshal([]byte(first.data), &placeholder))
			assert.Equal(t, string(chat.StateAwaitingFirstToken), placeholder.State)
			assert.Equal(t, chat.Placeholder, placeholder.History[1].Content)

			last := events[len(events)-1]
			assert.Equal(t, EventDone, last.name)
			var done model.TurnCompleteEvent
			require.NoError(t, json.Unmarshal([]byte(last.data), &done))
			assert.Equal(t, string(chat.StatePersisted), done.State)
			assert.Equal(t, "张三九的血压是多少", done.Title)
			assert.True(t, done.TitleChanged)

			var final model.HistoryEvent
			require.NoError(t, json.Unmarshal([]byte(events[len(events)-2].data), &final))
			want := chat.Render("<think>查阅档案</think>Hello")
			assert.Equal(t, want, final.History[1].Content)

			history, err := f.st.LoadHistory(context.Background(), convID)
			require.NoError(t, err)
			assert.Equal(t, want, history[1].Content)

			req := f.llm.request()
			require.NotNil(t, req)
			assert.Contains(t, req.System, "血压：140/90")
			assert.Equal(t, "张三九的血压是多少", req.Messages[len(req.Messages)-1].Content)
		})
	}
}

func TestSendMessageUpstreamFailure(t *testing.T) {
	f := newAPIFixture(t, chat.ModeStreaming, "Hel")
	f.llm.failErr = errors.New("connection reset")
	alice := f.registerAndLogin(t, "alice")

	resp := f.do(t, http.MethodPost, "/api/v1/conversations/"+alice.Conversation.ID+"/messages", alice.Token, model.SendMessageRequest{Content: "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readEvents(t, resp)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.name)
	var ev model.ErrorEvent
	require.NoError(t, json.Unmarshal([]byte(last.data), &ev))
	assert.Equal(t, "transport_failure", ev.Code)

	var final model.HistoryEvent
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-2].data), &final))
	assert.Equal(t, string(chat.StateFailed), final.State)
	content := final.History[1].Content
	assert.True(t, strings.HasPrefix(content, "Hel"))
	assert.Contains(t, content, chat.TransportFailureMarker)
}

func TestSendMessageRejections(t *testing.T) {
	f := newAPIFixture(t, chat.ModeStreaming, "hi")
	alice := f.registerAndLogin(t, "alice")
	bob := f.registerAndLogin(t, "bob")
	path := "/api/v1/conversations/" + alice.Conversation.ID + "/messages"

	resp := f.do(t, http.MethodPost, path, alice.Token, model.SendMessageRequest{Content: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, path, bob.Token, model.SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t, chat.ModeStreaming)

	resp := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type downConn struct{}

func (downConn) IsConnected() bool { return false }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestReadyReportsDependencies(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(failingPinger{}, nil).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database")

	rec = httptest.NewRecorder()
	NewHealthHandler(nil, downConn{}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "NATS")
}

func TestCompletionEndpointBatch(t *testing.T) {
	fake := &fakeLLM{tokens: []string{"4", "2"}}
	srv := httptest.NewServer(NewCompletionRouter(NewCompletionHandler(fake, nil, logger.Nop()), logger.Nop()))
	defer srv.Close()

	c := completion.New(srv.URL+"/v1/chat/completions", 5*time.Second)
	body, err := c.Complete(context.Background(), &completion.Request{
		Messages: []completion.Message{{Role: "system", Content: "ignored"}, {Role: "user", Content: "6*7?"}},
	})
	require.NoError(t, err)

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "42", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)

	req := fake.request()
	assert.Empty(t, req.System, "no retriever means no context prompt")
	assert.Len(t, req.Messages, 1)
}

func TestCompletionEndpointStream(t *testing.T) {
	fake := &fakeLLM{tokens: []string{"Hel", "lo"}}
	srv := httptest.NewServer(NewCompletionRouter(NewCompletionHandler(fake, nil, logger.Nop()), logger.Nop()))
	defer srv.Close()

	c := completion.New(srv.URL+"/v1/chat/completions", 5*time.Second)
	stream, err := c.Stream(context.Background(), &completion.Request{
		Messages: []completion.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var payloads []string
	for {
		p, err := stream.Next()
		if err != nil {
			break
		}
		payloads = append(payloads, p)
	}
	require.Len(t, payloads, 4)
	assert.Contains(t, payloads[0], `"content":"Hel"`)
	assert.Contains(t, payloads[2], `"finish_reason":"stop"`)
	assert.Equal(t, completion.DoneMarker, payloads[3])
}

func TestCompletionEndpointRejectsMissingUserMessage(t *testing.T) {
	srv := httptest.NewServer(NewCompletionRouter(NewCompletionHandler(&fakeLLM{}, nil, logger.Nop()), logger.Nop()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"messages":[{"role":"assistant","content":"hello"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompletionEndpointUpstreamErrorBeforeTokens(t *testing.T) {
	fake := &fakeLLM{failErr: errors.New("quota")}
	srv := httptest.NewServer(NewCompletionRouter(NewCompletionHandler(fake, nil, logger.Nop()), logger.Nop()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}],"stream":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
