// Package fivetran is a typed client for the subset of the Fivetran REST API
// needed to provision, sync and tear down a postgres-to-postgres pipeline.
package fivetran

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/syncprobe/pkg/telemetry"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.fivetran.com"

	// DefaultTimeout bounds a single request round trip.
	DefaultTimeout = 60 * time.Second

	acceptHeader = "application/json;version=2"
)

// Config is the immutable client configuration.
type Config struct {
	// BaseURL is the API root, without the /v1 prefix.
	BaseURL string `validate:"required,url"`

	// Authorization is the full value of the Authorization header,
	// e.g. "Basic <base64 key:secret>".
	Authorization string `validate:"required"`

	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration `validate:"gte=0"`

	// UserAgent is sent on every request when set.
	UserAgent string
}

// RequestDoer executes HTTP requests. *http.Client satisfies it.
type RequestDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the platform API. It is safe for concurrent use.
type Client struct {
	cfg      Config
	baseURL  *url.URL
	doer     RequestDoer
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	validate *validator.Validate
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(doer RequestDoer) Option {
	return func(c *Client) {
		c.doer = doer
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "fivetran").Logger()
	}
}

// WithMetrics records per-call metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracer opens a span per call.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// NewClient validates cfg and builds a client around one shared HTTP client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		baseURL:  base,
		doer:     &http.Client{Timeout: cfg.Timeout},
		logger:   zerolog.Nop(),
		validate: v,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// call performs a request and decodes the envelope payload as T. A missing
// payload is an error.
func call[T any](ctx context.Context, c *Client, op, method, path string, query url.Values, body any) (*T, error) {
	env, err := roundTrip[T](ctx, c, op, method, path, query, body)
	if err != nil {
		return nil, err
	}
	if env.Data == nil {
		e := &Error{Kind: KindMissingData, Op: op, Method: method, Path: path, Code: env.Code}
		if env.Message != nil {
			e.Message = *env.Message
		}
		return nil, e
	}
	return env.Data, nil
}

// callEmpty performs a request whose payload, if any, is ignored.
func callEmpty(ctx context.Context, c *Client, op, method, path string, body any) error {
	_, err := roundTrip[json.RawMessage](ctx, c, op, method, path, nil, body)
	return err
}

func roundTrip[T any](ctx context.Context, c *Client, op, method, path string, query url.Values, body any) (_ *Envelope[T], err error) {
	ctx, span := c.tracer.StartAPISpan(ctx, op, method, path)
	start := time.Now()
	defer func() {
		c.metrics.RecordAPICall(op, outcome(err), time.Since(start))
		telemetry.RecordError(span, err)
		span.End()
	}()

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return nil, newTransportError(op, method, path, err)
	}

	c.logger.Debug().Str("op", op).Str("method", method).Str("path", path).Msg("Calling platform API")

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, newTransportError(op, method, path, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError(op, method, path, fmt.Errorf("failed to read response: %w", err))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	var env Envelope[T]
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= http.StatusBadRequest {
				return nil, c.remoteError(op, method, path, resp.StatusCode, "", string(raw))
			}
			return nil, newTransportError(op, method, path, fmt.Errorf("failed to decode response: %w", err))
		}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := ""
		if env.Message != nil {
			msg = *env.Message
		}
		return nil, c.remoteError(op, method, path, resp.StatusCode, env.Code, msg)
	}

	return &env, nil
}

func (c *Client) remoteError(op, method, path string, status int, code, message string) *Error {
	c.logger.Error().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Str("code", code).
		Str("message", message).
		Msg("Platform API returned an error")
	return &Error{
		Kind:    KindRemote,
		Op:      op,
		Method:  method,
		Path:    path,
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := *c.baseURL
	u.Path = u.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.cfg.Authorization)
	req.Header.Set("Accept", acceptHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	return req, nil
}

// listAll follows next_cursor until the last page.
func listAll[T any](ctx context.Context, c *Client, op, path string) ([]T, error) {
	var (
		items  []T
		cursor string
	)
	for {
		var query url.Values
		if cursor != "" {
			query = url.Values{"cursor": []string{cursor}}
		}
		page, err := call[Page[T]](ctx, c, op, http.MethodGet, path, query, nil)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if page.NextCursor == "" {
			return items, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) requireID(op, name, id string) error {
	if err := c.validate.Var(id, "required,excludesall=/?#"); err != nil {
		return newValidationError(op, fmt.Errorf("invalid %s %q: %w", name, id, err))
	}
	return nil
}

func (c *Client) validateRequest(op string, req any) error {
	if err := c.validate.Struct(req); err != nil {
		return newValidationError(op, err)
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
