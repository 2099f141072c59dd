// Package platform talks to the chat gateway that owns the bot connection.
// The gateway exposes a small JSON API for rendering, deleting and direct
// messages; this package adapts it to models.Platform.
package platform

import (
	"anonfeedback/models"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// leveledSlog adapts slog to retryablehttp. Intermediate failures are logged
// at WARN since the request may still succeed on retry.
type leveledSlog struct {
	inner *slog.Logger
}

func (l leveledSlog) Error(msg string, keysAndValues ...any) { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Warn(msg string, keysAndValues ...any)  { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Info(msg string, keysAndValues ...any)  { l.inner.Debug(msg, keysAndValues...) }
func (l leveledSlog) Debug(msg string, keysAndValues ...any) { l.inner.Debug(msg, keysAndValues...) }

// Gateway is an HTTP client for the chat gateway. Lookups and deletes are
// retried; renders and direct messages are sent once, since a lost
// acknowledgement would otherwise post the same message twice.
type Gateway struct {
	BaseURL string
	Token   string
	client  *retryablehttp.Client
	once    *retryablehttp.Client
}

type Option func(*retryablehttp.Client)

// WithMaxRetries sets how often a failed call is retried.
func WithMaxRetries(n int) Option {
	return func(c *retryablehttp.Client) { c.RetryMax = n }
}

// WithRetryWait bounds the backoff between retries.
func WithRetryWait(waitMin, waitMax time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *retryablehttp.Client) { c.HTTPClient.Timeout = d }
}

func newClient(logger *slog.Logger, opts []Option) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: logger})
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// NewGateway creates a gateway client. For GET and DELETE, connection
// errors, 429 and 5xx responses are retried.
func NewGateway(baseURL, token string, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	once := newClient(logger, opts)
	once.RetryMax = 0
	once.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Gateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  newClient(logger, opts),
		once:    once,
	}
}

type renderResponse struct {
	MessageID int64 `json:"message_id,string"`
}

type ownerResponse struct {
	OwnerID int64 `json:"owner_id,string"`
}

type dmRequest struct {
	Text string `json:"text"`
}

// statusError is a non-2xx response from the gateway.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

func (g *Gateway) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode gateway request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, g.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	client := g.client
	if method == http.MethodPost {
		client = g.once
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}

func isStatus(err error, status int) bool {
	var se *statusError
	return errors.As(err, &se) && se.Status == status
}

func (g *Gateway) RenderMessage(ctx context.Context, threadID int64, msg models.Message) (int64, error) {
	var out renderResponse
	if err := g.do(ctx, http.MethodPost, fmt.Sprintf("/threads/%d/messages", threadID), msg, &out); err != nil {
		return 0, err
	}
	if out.MessageID == 0 {
		return 0, fmt.Errorf("gateway returned no message id")
	}
	return out.MessageID, nil
}

// DeleteMessage removes a rendered message. A message that is already gone
// counts as deleted.
func (g *Gateway) DeleteMessage(ctx context.Context, threadID, messageID int64) error {
	err := g.do(ctx, http.MethodDelete, fmt.Sprintf("/threads/%d/messages/%d", threadID, messageID), nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (g *Gateway) NotifyUser(ctx context.Context, userID int64, text string) error {
	return g.do(ctx, http.MethodPost, fmt.Sprintf("/users/%d/dm", userID), dmRequest{Text: text}, nil)
}

// ResolveThreadOwner returns models.ErrThreadNotFound when the gateway does
// not know the thread.
func (g *Gateway) ResolveThreadOwner(ctx context.Context, threadID int64) (int64, error) {
	var out ownerResponse
	err := g.do(ctx, http.MethodGet, fmt.Sprintf("/threads/%d/owner", threadID), nil, &out)
	if isStatus(err, http.StatusNotFound) {
		return 0, fmt.Errorf("thread %d: %w", threadID, models.ErrThreadNotFound)
	}
	if err != nil {
		return 0, err
	}
	if out.OwnerID == 0 {
		return 0, fmt.Errorf("thread %d has no owner: %w", threadID, models.ErrThreadNotFound)
	}
	return out.OwnerID, nil
}
