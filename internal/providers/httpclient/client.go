// Package httpclient is the resilient JSON client shared by processor
// adapters: per-call timeouts, retries for idempotent calls and one circuit
// breaker per processor.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Config tunes outbound calls. Processor configs embed it.
type Config struct {
	Timeout          time.Duration
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	BreakerDelay     time.Duration
	BreakerThreshold uint
	BreakerWindow    uint
}

// DefaultConfig returns the settings used when a field is left zero
func DefaultConfig() Config {
	return Config{
		Timeout:          15 * time.Second,
		MaxRetries:       2,
		BaseDelay:        200 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		BreakerDelay:     15 * time.Second,
		BreakerThreshold: 5,
		BreakerWindow:    10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = max(d.MaxDelay, c.BaseDelay)
	}
	if c.BreakerDelay <= 0 {
		c.BreakerDelay = d.BreakerDelay
	}
	if c.BreakerWindow == 0 {
		c.BreakerWindow = d.BreakerWindow
	}
	if c.BreakerThreshold == 0 || c.BreakerThreshold > c.BreakerWindow {
		c.BreakerThreshold = min(d.BreakerThreshold, c.BreakerWindow)
	}
	return c
}

// Authorizer decorates an outgoing request with credentials
type Authorizer func(ctx context.Context, req *http.Request) error

// BearerToken authorizes with a static secret key
func BearerToken(key string) Authorizer {
	return func(_ context.Context, req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+key)
		return nil
	}
}

// Client calls one processor's JSON API
type Client struct {
	processor providers.Name
	baseURL   string
	http      *http.Client
	auth      Authorizer
	retrying  failsafe.Executor[*http.Response]
	once      failsafe.Executor[*http.Response]
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAuthorizer sets how requests are authenticated
func WithAuthorizer(a Authorizer) Option {
	return func(c *Client) { c.auth = a }
}

// WithMetrics records call outcomes and breaker state
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client for processor rooted at baseURL
func New(processor providers.Name, baseURL string, cfg Config, logger *slog.Logger, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		processor: processor,
		baseURL:   baseURL,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(cfg.BreakerThreshold, cfg.BreakerWindow).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			if errors.Is(err, errBuild) {
				return false
			}
			return err != nil || (resp != nil && resp.StatusCode >= 500)
		}).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			c.logger.Warn("processor circuit breaker state change",
				"processor", processor,
				"from", stateName(e.OldState),
				"to", stateName(e.NewState),
			)
			c.metrics.CircuitOpen(string(processor), e.NewState == circuitbreaker.OpenState)
		}).
		Build()

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(shouldRetry).
		Build()

	c.retrying = failsafe.With[*http.Response](retry, breaker)
	c.once = failsafe.With[*http.Response](breaker)
	return c
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

func shouldRetry(resp *http.Response, err error) bool {
	if errors.Is(err, errBuild) {
		return false
	}
	if err != nil || resp == nil {
		return true
	}
	return unavailableStatus(resp.StatusCode)
}

func unavailableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Request describes one call
type Request struct {
	// Operation names the call in logs and metrics.
	Operation string
	Method    string
	Path      string
	Body      any
	Header    http.Header
	// Idempotent calls are retried. Transfers must never set it.
	Idempotent bool
	// NoAuth skips the Authorizer, for token endpoints.
	NoAuth bool
}

// Do performs req and decodes a 2xx JSON body into out, if out is non-nil.
// Transport failures, timeouts, an open breaker, 429 and 5xx return
// ErrUpstreamUnavailable. Other non-2xx statuses return *RejectedError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	var payload []byte
	if req.Body != nil {
		var err error
		if payload, err = json.Marshal(req.Body); err != nil {
			return fmt.Errorf("encoding %s request: %w", req.Operation, err)
		}
	}

	executor := c.once
	if req.Idempotent {
		executor = c.retrying
	}

	start := time.Now()
	resp, err := executor.WithContext(ctx).Get(func() (*http.Response, error) {
		httpReq, err := c.build(ctx, req, payload)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(httpReq)
		if err == nil && req.Idempotent && shouldRetry(resp, nil) {
			_ = resp.Body.Close()
		}
		return resp, err
	})
	elapsed := time.Since(start)

	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		c.record(req.Operation, "unavailable", elapsed)
		if errors.Is(err, errBuild) {
			return err
		}
		c.logger.Warn("processor call failed",
			"processor", c.processor,
			"operation", req.Operation,
			"error", err,
		)
		return fmt.Errorf("%w: %s %s: %v", providers.ErrUpstreamUnavailable, c.processor, req.Operation, err)
	}
	defer resp.Body.Close()

	if unavailableStatus(resp.StatusCode) {
		c.record(req.Operation, "unavailable", elapsed)
		return fmt.Errorf("%w: %s %s returned %d", providers.ErrUpstreamUnavailable, c.processor, req.Operation, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.record(req.Operation, "unavailable", elapsed)
		return fmt.Errorf("%w: reading %s response: %v", providers.ErrUpstreamUnavailable, req.Operation, err)
	}

	if resp.StatusCode >= 300 {
		c.record(req.Operation, "rejected", elapsed)
		return &providers.RejectedError{
			Processor:  c.processor,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	c.record(req.Operation, "ok", elapsed)
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", providers.ErrUpstreamUnavailable, req.Operation, err)
	}
	return nil
}

var errBuild = errors.New("building request")

func (c *Client) build(ctx context.Context, req Request, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBuild, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if c.auth != nil && !req.NoAuth {
		if err := c.auth(ctx, httpReq); err != nil {
			return nil, err
		}
	}
	return httpReq, nil
}

func (c *Client) record(operation, outcome string, d time.Duration) {
	c.metrics.ProcessorCall(string(c.processor), operation, outcome, d)
}

// errorMessage pulls a human message out of the error bodies processors send
func errorMessage(body []byte) string {
	var parsed struct {
		Message         string `json:"message"`
		ResponseMessage string `json:"responseMessage"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.ResponseMessage != "" {
			return parsed.ResponseMessage
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
