package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamYieldsDataPayloads(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "event: message\ndata: {\"a\":1}\n\n")
		fmt.Fprint(w, "data:{\"b\":2}\n\n")
		fmt.Fprint(w, "data: \n\n")
		fmt.Fprint(w, "{\"bare\":true}\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	s, err := c.Stream(context.Background(), &Request{
		Messages:       []Message{{Role: "user", Content: "hi"}},
		UserID:         "u1",
		ConversationID: "c1",
	})
	require.NoError(t, err)
	defer s.Close()

	var payloads []string
	for {
		p, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		payloads = append(payloads, p)
	}

	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"bare":true}`, DoneMarker}, payloads)
	assert.True(t, got.Stream)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "c1", got.ConversationID)
}

func TestRequestWireFormat(t *testing.T) {
	b, err := json.Marshal(&Request{Messages: []Message{{Role: "user", Content: "hi"}}, Stream: true, UserID: "u", ConversationID: "c"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":[{"role":"user","content":"hi"}],"stream":true,"userId":"u","conversationId":"c"}`, string(b))
}

func TestNon2xxIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)

	_, err := c.Stream(context.Background(), &Request{})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Contains(t, te.Error(), "upstream exploded")

	_, err = c.Complete(context.Background(), &Request{})
	assert.True(t, IsTransportError(err))
}

func TestDialFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Complete(context.Background(), &Request{})
	assert.True(t, IsTransportError(err))
}

func TestCompleteReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hello"}}]}`)
	}))
	defer srv.Close()

	body, err := New(srv.URL, time.Second).Complete(context.Background(), &Request{Stream: true})
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "hello"))
}
