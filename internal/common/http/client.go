// Package http provides the outbound HTTP client shared by the payment,
// shipping and invoice integrations: pooled transport, bounded retry and
// a circuit breaker per upstream service.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"storefront-fulfillment/internal/circuitbreaker"
	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/common/utils"
)

// maxErrorBody bounds how much of an upstream error body ends up in error messages
const maxErrorBody = 512

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	Transport           http.RoundTripper
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithMaxIdleConnsPerHost sets the maximum number of idle connections per host
func WithMaxIdleConnsPerHost(max int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxIdleConnsPerHost = max
	}
}

// WithoutKeepAlives disables connection reuse
func WithoutKeepAlives() ClientOption {
	return func(c *ClientConfig) {
		c.DisableKeepAlives = true
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
			DisableKeepAlives:   cfg.DisableKeepAlives,
		}
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// RetryConfig for HTTP client retry logic
type RetryConfig struct {
	MaxAttempts          int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	BackoffFactor        float64
	JitterFactor         float64
	RetryableStatusCodes []int
}

// DefaultRetryConfig retries transient failures three times
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusRequestTimeout,
		},
	}
}

// SingleAttempt disables retrying
func SingleAttempt() *RetryConfig {
	return &RetryConfig{MaxAttempts: 1}
}

// BasicAuth credentials for a request
type BasicAuth struct {
	Username string
	Password string
}

// RequestOptions describes one outbound request
type RequestOptions struct {
	Method      string
	URL         string
	Body        []byte
	Headers     map[string]string
	BearerToken string
	BasicAuth   *BasicAuth
}

// Response represents a completed HTTP exchange
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// DecodeJSON unmarshals the response body into v
func (r *Response) DecodeJSON(v interface{}) error {
	if len(r.Body) == 0 {
		return errors.ValidationError("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.InternalError("failed to decode response body", err)
	}
	return nil
}

// HTTPClientWrapper wraps http.Client with retry and circuit breaking for one upstream service
type HTTPClientWrapper struct {
	service        string
	client         *http.Client
	retryConfig    *RetryConfig
	circuitBreaker *circuitbreaker.GoBreakerAdapter
	logger         logging.Logger
}

// NewHTTPClientWrapper creates a wrapper for the named upstream service
func NewHTTPClientWrapper(service string, logger logging.Logger, opts ...ClientOption) *HTTPClientWrapper {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &HTTPClientWrapper{
		service:     service,
		client:      NewHTTPClient(opts...),
		retryConfig: SingleAttempt(),
		logger:      logger.WithFields(logging.Field{Key: "upstream", Value: service}),
	}
}

// WithCircuitBreaker guards every attempt with a breaker named after the service
func (w *HTTPClientWrapper) WithCircuitBreaker(config circuitbreaker.Config) *HTTPClientWrapper {
	w.circuitBreaker = circuitbreaker.NewGoBreaker(w.service, config, w.logger)
	return w
}

// WithRetryConfig sets the retry policy, nil disables retrying
func (w *HTTPClientWrapper) WithRetryConfig(config *RetryConfig) *HTTPClientWrapper {
	if config == nil {
		config = SingleAttempt()
	}
	w.retryConfig = config
	return w
}

// Service returns the upstream service name
func (w *HTTPClientWrapper) Service() string {
	return w.service
}

// GetCircuitBreaker returns the circuit breaker for monitoring
func (w *HTTPClientWrapper) GetCircuitBreaker() *circuitbreaker.GoBreakerAdapter {
	return w.circuitBreaker
}

// Request performs an HTTP request. Non-2xx answers come back as upstream errors
// along with the response so callers can inspect the status.
func (w *HTTPClientWrapper) Request(ctx context.Context, opts *RequestOptions) (*Response, error) {
	retryConfig := w.retryConfig
	var response *Response

	err := utils.RetryWithBackoff(ctx, utils.RetryConfig{
		MaxAttempts:   retryConfig.MaxAttempts,
		InitialDelay:  retryConfig.InitialDelay,
		MaxDelay:      retryConfig.MaxDelay,
		BackoffFactor: retryConfig.BackoffFactor,
		JitterFactor:  retryConfig.JitterFactor,
		RetryableErrors: func(err error) bool {
			return isRetryableError(err, retryConfig.RetryableStatusCodes)
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			w.logger.Warn("Retrying upstream request",
				logging.Field{Key: "method", Value: opts.Method},
				logging.Field{Key: "url", Value: opts.URL},
				logging.Field{Key: "attempt", Value: attempt},
				logging.Field{Key: "delay", Value: delay.String()},
				logging.Field{Key: "error", Value: err.Error()},
			)
		},
	}, func() error {
		var reqErr error
		if w.circuitBreaker == nil {
			response, reqErr = w.executeRequest(ctx, opts)
			return reqErr
		}
		return w.circuitBreaker.Execute(ctx, func() error {
			response, reqErr = w.executeRequest(ctx, opts)
			return reqErr
		})
	})

	return response, err
}

// GetJSON issues a GET and decodes a JSON answer into out
func (w *HTTPClientWrapper) GetJSON(ctx context.Context, url string, opts *RequestOptions, out interface{}) error {
	req := cloneOptions(opts)
	req.Method = http.MethodGet
	req.URL = url
	resp, err := w.Request(ctx, req)
	if err != nil {
		return err
	}
	return resp.DecodeJSON(out)
}

// PostJSON encodes body as JSON, posts it and decodes the answer into out when out is non-nil
func (w *HTTPClientWrapper) PostJSON(ctx context.Context, url string, body interface{}, opts *RequestOptions, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.InternalError("failed to encode request body", err)
	}

	req := cloneOptions(opts)
	req.Method = http.MethodPost
	req.URL = url
	req.Body = payload
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	req.Headers["Content-Type"] = "application/json"

	resp, err := w.Request(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.DecodeJSON(out)
}

func cloneOptions(opts *RequestOptions) *RequestOptions {
	if opts == nil {
		return &RequestOptions{}
	}
	clone := *opts
	if opts.Headers != nil {
		clone.Headers = make(map[string]string, len(opts.Headers))
		for k, v := range opts.Headers {
			clone.Headers[k] = v
		}
	}
	return &clone
}

// executeRequest executes a single HTTP request attempt
func (w *HTTPClientWrapper) executeRequest(ctx context.Context, opts *RequestOptions) (*Response, error) {
	start := time.Now()

	var bodyReader io.Reader
	if opts.Body != nil {
		bodyReader = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, bodyReader)
	if err != nil {
		return nil, errors.InternalError("failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+opts.BearerToken)
	} else if opts.BasicAuth != nil {
		req.SetBasicAuth(opts.BasicAuth.Username, opts.BasicAuth.Password)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ConnectionError(fmt.Sprintf("%s request failed", w.service), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ConnectionError("failed to read response body", err)
	}

	response := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Duration:   time.Since(start),
	}

	w.logger.Debug("Upstream request completed",
		logging.Field{Key: "method", Value: opts.Method},
		logging.Field{Key: "url", Value: opts.URL},
		logging.Field{Key: "status", Value: resp.StatusCode},
		logging.Field{Key: "duration_ms", Value: response.Duration.Milliseconds()},
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return response, nil
	}

	snippet := body
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}
	return response, errors.UpstreamError(w.service, resp.StatusCode,
		fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(snippet)))
}

// StatusCode extracts the upstream HTTP status from an error, 0 if there is none
func StatusCode(err error) int {
	appErr, ok := errors.As(err)
	if !ok || appErr.Type != errors.ErrTypeUpstream {
		return 0
	}
	status, _ := appErr.Context["status"].(int)
	return status
}

// isRetryableError retries connection failures, 5xx and the configured status codes
func isRetryableError(err error, retryableStatusCodes []int) bool {
	if errors.IsType(err, errors.ErrTypeConnection) {
		return true
	}

	status := StatusCode(err)
	if status >= 500 {
		return true
	}
	for _, code := range retryableStatusCodes {
		if status == code {
			return true
		}
	}
	return false
}
