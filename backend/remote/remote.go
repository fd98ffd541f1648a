// Package remote pushes queued pantry operations to the sync endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	syncer "pantryat/backend/sync"
	"pantryat/internal/ratelimit"
)

// SyncPath is the endpoint path appended to the configured base URL.
const SyncPath = "/api/pantry/sync"

// ErrNoEndpoint is returned when no base URL is configured.
var ErrNoEndpoint = errors.New("no sync endpoint configured")

// StatusError is a non-success response from the sync endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sync endpoint returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("sync endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets callers match syncer.ErrRemoteCallFailed.
func (e *StatusError) Unwrap() error { return syncer.ErrRemoteCallFailed }

// Config configures a Client.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token      string
	HTTPClient *http.Client
	// MaxRetries bounds retries of throttled responses.
	MaxRetries int
	RetryDelay time.Duration
	Logger     zerolog.Logger
}

// Client implements syncer.Remote over HTTP.
type Client struct {
	url   string
	token string
	http  *ratelimit.Client
	log   zerolog.Logger
}

// request is the wire body of one operation.
type request struct {
	Action syncer.Action   `json:"action"`
	Data   json.RawMessage `json:"data"`
	ID     string          `json:"id"`
}

// New creates a client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrNoEndpoint
	}
	return &Client{
		url:   base + SyncPath,
		token: cfg.Token,
		http: ratelimit.NewClient(ratelimit.Config{
			MaxRetries:   cfg.MaxRetries,
			BaseDelay:    cfg.RetryDelay,
			EnableJitter: true,
			HTTPClient:   cfg.HTTPClient,
			Service:      "sync endpoint",
			Logger:       cfg.Logger,
		}),
		log: cfg.Logger,
	}, nil
}

// URL returns the full endpoint URL.
func (c *Client) URL() string { return c.url }

// Push sends one operation. Every failure wraps syncer.ErrRemoteCallFailed.
func (c *Client) Push(ctx context.Context, op syncer.PendingOperation) error {
	data := op.Payload
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	body, err := json.Marshal(request{Action: op.Action, Data: data, ID: op.ID})
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", syncer.ErrRemoteCallFailed, op.ID, err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(ctx, http.MethodPost, c.url, bytes.NewReader(body), header)
	if err != nil {
		return fmt.Errorf("%w: %w", syncer.ErrRemoteCallFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.log.Debug().Str("op_id", op.ID).Int("status", resp.StatusCode).Msg("pushed sync operation")
	return nil
}

var _ syncer.Remote = (*Client)(nil)
