// Package api is the HTTP client for the chat backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crowdchat/crowd/internal/conversation"
)

// ErrNoBaseURL is returned by New when no server URL is configured.
var ErrNoBaseURL = errors.New("server url is required")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// State is the persisted state of one chat.
type State struct {
	Assistant string                 `json:"assistant"`
	Title     string                 `json:"title"`
	Messages  []conversation.Message `json:"messages"`
}

// Assistant describes a selectable assistant. Only the name is interpreted.
type Assistant struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ChatSummary is one entry of the chat history sidebar.
type ChatSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastUpdated Timestamp `json:"last_updated"`
}

// SendRequest is the body of a message post.
type SendRequest struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Assistant string `json:"assistant"`
}

// Client talks to the chat backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no overall timeout. It carries the event streams and
	// message posts, which only end when the caller cancels.
	streamClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the timeout of request/response calls. Message posts and
// event streams are not bounded by it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client for all calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.streamClient = hc
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	// Keep cookies across calls like a browser session would.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second, Jar: jar},
		streamClient: &http.Client{Jar: jar},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// State loads the persisted state of a chat.
func (c *Client) State(ctx context.Context, chatID string) (*State, error) {
	var st State
	if err := c.getJSON(ctx, "/"+url.PathEscape(chatID)+"/state", &st); err != nil {
		return nil, err
	}
	if st.Messages == nil {
		st.Messages = []conversation.Message{}
	}
	return &st, nil
}

// Assistants lists the assistants the backend offers.
func (c *Client) Assistants(ctx context.Context) ([]Assistant, error) {
	var out []Assistant
	if err := c.getJSON(ctx, "/assistants", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Chats lists past chats for the sidebar.
func (c *Client) Chats(ctx context.Context) ([]ChatSummary, error) {
	var out []ChatSummary
	if err := c.getJSON(ctx, "/chats", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a user message. The post stays open while the assistant
// answers; only cancelling ctx aborts it.
func (c *Client) SendMessage(ctx context.Context, chatID string, req SendRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.send(ctx, c.streamClient, http.MethodPost, "/"+url.PathEscape(chatID)+"/message", "application/json", bytes.NewReader(body), nil)
}

// DeleteMessage deletes one message of a chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	path := "/" + url.PathEscape(chatID) + "/message/" + url.PathEscape(messageID)
	return c.do(ctx, http.MethodDelete, path, "", nil, nil)
}

// SetAssistant selects the assistant of a chat. The body is the raw name.
func (c *Client) SetAssistant(ctx context.Context, chatID, assistant string) error {
	return c.do(ctx, http.MethodPut, "/"+url.PathEscape(chatID)+"/assistant", "text/plain; charset=utf-8", strings.NewReader(assistant), nil)
}

// DeleteChat deletes a whole chat.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodDelete, "/"+url.PathEscape(chatID), "", nil, nil)
}

// OpenEvents opens the server-sent event stream of a chat. The caller owns
// the returned body; cancelling ctx also ends it.
func (c *Client) OpenEvents(ctx context.Context, chatID string) (io.ReadCloser, error) {
	path := "/" + url.PathEscape(chatID) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if err := checkStatus(resp, http.MethodGet, path); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	return c.send(ctx, c.httpClient, method, path, contentType, body, out)
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if out != nil {
		req.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	log.Debug().Str("method", method).Str("path", path).
		Int("status", resp.StatusCode).Dur("took", time.Since(start)).
		Msg("[api] request")

	if err := checkStatus(resp, method, path); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func checkStatus(resp *http.Response, method, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(data)),
	}
}
