// Package ratelimit provides an HTTP client that retries throttled requests
// with exponential backoff.
package ratelimit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds configuration for the rate-limiting HTTP client.
type Config struct {
	// MaxRetries is the maximum number of retries after a throttled response.
	// Default: 3
	MaxRetries int

	// BaseDelay is the initial delay before the first retry.
	// Default: 500ms
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries, including Retry-After values.
	// Default: 10s
	MaxDelay time.Duration

	// EnableJitter adds random jitter (±20%) to computed delays.
	EnableJitter bool

	// HTTPClient overrides the underlying client.
	HTTPClient *http.Client

	// Stats is an optional tracker for throttling events.
	Stats *Stats

	// Service names the remote in errors and logs.
	Service string

	Logger zerolog.Logger
}

// Client is an HTTP client that retries 429 and 503 responses.
type Client struct {
	httpClient   *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	enableJitter bool
	stats        *Stats
	service      string
	log          zerolog.Logger
}

// NewClient creates a client with defaults applied.
func NewClient(cfg Config) *Client {
	c := &Client{
		httpClient:   cfg.HTTPClient,
		maxRetries:   cfg.MaxRetries,
		baseDelay:    cfg.BaseDelay,
		maxDelay:     cfg.MaxDelay,
		enableJitter: cfg.EnableJitter,
		stats:        cfg.Stats,
		service:      cfg.Service,
		log:          cfg.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.baseDelay <= 0 {
		c.baseDelay = 500 * time.Millisecond
	}
	if c.maxDelay <= 0 {
		c.maxDelay = 10 * time.Second
	}
	return c
}

// Retryable reports whether a status code is retried by the client.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// Do performs a request, retrying throttled responses. header is copied onto
// every attempt. When retries are exhausted a *RateLimitError is returned.
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	var lastStatus int
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if !Retryable(resp.StatusCode) {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"))
		_ = resp.Body.Close()

		if c.stats != nil {
			c.stats.RecordRateLimit()
		}
		if attempt >= c.maxRetries {
			break
		}

		delay := c.calculateBackoff(attempt, retryAfter)
		c.log.Debug().Str("service", c.service).Int("status", lastStatus).
			Int("attempt", attempt+1).Dur("delay", delay).Msg("throttled, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, &RateLimitError{
		Service:    c.service,
		StatusCode: lastStatus,
		Attempts:   c.maxRetries + 1,
	}
}

func (c *Client) calculateBackoff(attempt int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		return min(*retryAfter, c.maxDelay)
	}

	delay := c.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	if c.enableJitter {
		jitterFactor := 0.8 + rand.Float64()*0.4
		delay = time.Duration(float64(delay) * jitterFactor)
	}
	return delay
}

// RateLimitError is returned when throttling outlasts the retries.
type RateLimitError struct {
	Service    string
	StatusCode int
	Attempts   int
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	service := e.Service
	if service == "" {
		service = "remote"
	}
	return fmt.Sprintf("%s still throttled (HTTP %d) after %d attempts", service, e.StatusCode, e.Attempts)
}

// ParseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
// Returns nil if the value is invalid or empty.
func ParseRetryAfter(value string) *time.Duration {
	if value == "" {
		return nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds) * time.Second
		return &d
	}
	if t, err := http.ParseTime(value); err == nil {
		d := max(time.Until(t), 0)
		return &d
	}
	return nil
}

// Stats counts throttled responses.
type Stats struct {
	mu            sync.RWMutex
	count         int64
	lastThrottled time.Time
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// RecordRateLimit records a throttled response.
func (s *Stats) RecordRateLimit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	s.lastThrottled = time.Now()
}

// RateLimitCount returns the number of throttled responses seen.
func (s *Stats) RateLimitCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// LastRateLimitTime returns when the last throttled response was seen.
func (s *Stats) LastRateLimitTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastThrottled
}
