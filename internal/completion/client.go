// Package completion is the HTTP client for the chat completion endpoint.
package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DoneMarker is the payload of the final streaming event.
const DoneMarker = "[DONE]"

const maxEventSize = 1 << 20

// Message is one role-tagged entry of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body posted to the endpoint.
type Request struct {
	Messages       []Message `json:"messages"`
	Stream         bool      `json:"stream"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
}

// TransportError reports a failed exchange with the endpoint: a dial
// error, a non-2xx status, or a broken response body.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion endpoint returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("completion endpoint: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client posts completion requests to a fixed URL.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates a client. A zero timeout leaves requests bounded only by their context.
func New(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// URL returns the endpoint address.
func (c *Client) URL() string {
	return c.url
}

func (c *Client) post(ctx context.Context, req *Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}

// Complete performs a non-streaming request and returns the raw response body.
func (c *Client) Complete(ctx context.Context, req *Request) ([]byte, error) {
	req.Stream = false
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return body, nil
}

// Stream performs a streaming request. The caller must Close the returned stream.
func (c *Client) Stream(ctx context.Context, req *Request) (*EventStream, error) {
	req.Stream = true
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &EventStream{body: resp.Body, scanner: scanner}, nil
}

// EventStream yields the data payloads of a server-sent event stream.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Next returns the next non-empty data payload. It returns io.EOF when the
// server closes the stream and a *TransportError when reading fails.
// Comment, event, id and retry lines are skipped; lines without a field
// name are returned whole.
func (s *EventStream) Next() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			if payload = strings.TrimSpace(payload); payload != "" {
				return payload, nil
			}
			continue
		}
		if isFieldLine(line) {
			continue
		}
		return line, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", &TransportError{Err: err}
	}
	return "", io.EOF
}

// Close releases the response body.
func (s *EventStream) Close() error {
	return s.body.Close()
}

func isFieldLine(line string) bool {
	for _, f := range []string{"event:", "id:", "retry:"} {
		if strings.HasPrefix(line, f) {
			return true
		}
	}
	return false
}

// IsTransportError reports whether err is a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
