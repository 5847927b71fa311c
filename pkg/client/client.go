// Package client provides the JSON REST transport used to talk to the GRC
// backend (a real API or a JSON-server style mock).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/exploopio/grc/pkg/compress"
	"github.com/exploopio/grc/pkg/core"
	sdkerrors "github.com/exploopio/grc/pkg/errors"
	"github.com/exploopio/grc/pkg/metrics"
)

const tracerName = "github.com/exploopio/grc/pkg/client"

// Client is the GRC backend REST client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration

	limiter    *rate.Limiter
	compressor *compress.Compressor
	minCompress int

	tracer  trace.Tracer
	metrics metrics.Collector
	logger  core.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"` // GET only; 0 disables
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`

	// RateLimit caps requests per second (0 = unlimited).
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`

	// Compression is "zstd", "gzip" or "" (disabled).
	Compression      string `yaml:"compression" json:"compression"`
	CompressionLevel int    `yaml:"compression_level" json:"compression_level"`
}

// DefaultConfig returns default client config.
func DefaultConfig() *Config {
	return &Config{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
	}
}

// New creates a new client from cfg and applies opts on top.
func New(cfg *Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		minCompress: compress.DefaultMinSize,
		tracer:      otel.GetTracerProvider().Tracer(tracerName),
		metrics:     &metrics.NopCollector{},
		logger:      core.NopLogger{},
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if cfg.Compression != "" {
		if algo, err := compress.ParseAlgorithm(cfg.Compression); err == nil && algo != compress.AlgorithmNone {
			c.compressor = compress.NewCompressor(algo, compress.Level(cfg.CompressionLevel))
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// Functional Options
// =============================================================================

// Option is a function that configures the client.
type Option func(*Client)

// WithBaseURL sets the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAPIKey sets the static bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetry sets retry configuration for idempotent requests.
func WithRetry(maxRetries int, retryDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = retryDelay
	}
}

// WithRateLimit limits outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTokenSource authenticates requests with an OAuth2 token source.
// It takes precedence over WithAPIKey.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.httpClient.Transport = &oauth2.Transport{Source: ts, Base: base}
		c.apiKey = ""
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithCompression compresses request bodies larger than minSize bytes.
func WithCompression(algorithm compress.Algorithm, level compress.Level, minSize int) Option {
	return func(c *Client) {
		if algorithm == compress.AlgorithmNone {
			c.compressor = nil
			return
		}
		c.compressor = compress.NewCompressor(algorithm, level)
		c.minCompress = minSize
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = metrics.OrNop(m)
	}
}

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option {
	return func(c *Client) {
		c.logger = core.OrNop(l)
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Verbs
// =============================================================================

// Get fetches path and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends body as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Put replaces the document at path.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

// Patch sends a partial document.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, nil, body, out)
}

// Delete removes the document at path.
func (c *Client) Delete(ctx context.Context, path string, query url.Values) error {
	return c.Do(ctx, http.MethodDelete, path, query, nil, nil)
}

// Do performs a request. body is JSON-encoded when non-nil; out, when
// non-nil, receives the decoded response. Only GET requests are retried.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	data, err := c.doRequest(ctx, method, target, resourceOf(path), payload)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request, retrying idempotent methods with
// exponential backoff.
func (c *Client) doRequest(ctx context.Context, method, target, resource string, body []byte) ([]byte, error) {
	retries := 0
	if method == http.MethodGet {
		retries = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying %s %s (attempt %d/%d) after %v", method, resource, attempt, retries, backoff)
			c.metrics.CounterInc(metrics.HTTPRetries.Name, "resource", resource)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		data, err := c.doRequestOnce(ctx, method, target, resource, body)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !sdkerrors.IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}

	if retries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("request failed after %d retries: %w", retries, lastErr)
}

// doRequestOnce performs a single HTTP request.
func (c *Client) doRequestOnce(ctx context.Context, method, target, resource string, body []byte) (data []byte, err error) {
	ctx, span := c.tracer.Start(ctx, method+" "+resource,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", target),
			attribute.String("grc.resource", resource),
		),
	)
	defer span.End()

	timer := metrics.NewTimer(c.metrics, metrics.HTTPRequestDuration.Name, "method", method, "resource", resource)
	status := "error"
	defer func() {
		timer.ObserveDuration()
		c.metrics.CounterInc(metrics.HTTPRequestsTotal.Name, "method", method, "resource", resource, "status", status)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, sdkerrors.E(sdkerrors.KindRateLimit, "client.wait", "rate limiter", err)
		}
	}

	requestBody, contentEncoding := body, ""
	if len(body) > 0 {
		requestBody, contentEncoding = c.compressor.MaybeCompress(body, c.minCompress)
	}

	var reader io.Reader
	if requestBody != nil {
		reader = bytes.NewReader(requestBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", "grc-sdk/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := sdkerrors.KindNetwork
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			kind = sdkerrors.KindTimeout
		}
		return nil, sdkerrors.E(kind, "http request", method+" "+resource, err)
	}
	defer resp.Body.Close()

	status = fmt.Sprintf("%d", resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, sdkerrors.E(sdkerrors.KindNetwork, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			RequestID:  resp.Header.Get("X-Request-ID"),
		}
	}
	return data, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// resourceOf returns the first path segment, used as a low-cardinality label.
func resourceOf(path string) string {
	path = strings.TrimLeft(path, "/")
	if i := strings.IndexAny(path, "/?"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "root"
	}
	return path
}

// =============================================================================
// Errors
// =============================================================================

// HTTPError represents a non-2xx HTTP response.
type HTTPError struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *HTTPError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("http %d: %s (request_id: %s)", e.StatusCode, e.Body, e.RequestID)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the status code to the errors package.
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// IsHTTPError checks if err is an HTTPError and returns it.
func IsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// IsNotFoundError checks if the error is a 404 not found error.
func IsNotFoundError(err error) bool {
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IsClientError checks if the error is a 4xx client error.
func IsClientError(err error) bool {
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500
	}
	return false
}

// IsServerError checks if the error is a 5xx server error.
func IsServerError(err error) bool {
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.StatusCode >= 500
	}
	return false
}
