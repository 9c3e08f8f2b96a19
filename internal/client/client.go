// Package client is the HTTP client used by API tests. It resolves paths
// against the configured base URL, applies common headers, runs the request
// and response hooks (token, encryption, signing, re-authentication), and
// returns fully read responses.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/config"
)

// HeaderCorrelationID is attached to every request that does not already carry one.
const HeaderCorrelationID = "X-Correlation-Id"

// ErrRequest wraps transport failures: connection errors, timeouts, bad URLs.
var ErrRequest = errors.New("api request failed")

// Client sends API requests. It is safe for concurrent use once built.
type Client struct {
	baseURL string
	timeout time.Duration
	headers map[string]string
	http    *http.Client
	hooks   []Hook
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHooks appends hooks. Request hooks run in the order given.
func WithHooks(hooks ...Hook) Option {
	return func(c *Client) { c.hooks = append(c.hooks, hooks...) }
}

// New creates a Client for cfg's base URL, timeout and common headers.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		headers: make(map[string]string, len(cfg.Headers)),
		http:    &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		logger:  slog.Default(),
	}
	for k, v := range cfg.Headers {
		c.headers[k] = v
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Use appends hooks after construction, e.g. a ReauthHook that needs the client itself.
// Not safe to call concurrently with Do.
func (c *Client) Use(hooks ...Hook) {
	c.hooks = append(c.hooks, hooks...)
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
	c.logger.Debug("api client closed")
}

// Get sends a GET with query parameters.
func (c *Client) Get(ctx context.Context, path string, query map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post sends a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, JSON: body})
}

// Put sends a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, JSON: body})
}

// Delete sends a DELETE.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// Upload POSTs filePath as multipart form field fileField, plus extra fields.
func (c *Client) Upload(ctx context.Context, path, filePath, fileField string, fields map[string]string) (*Response, error) {
	if fileField == "" {
		fileField = "file"
	}
	body, contentType, err := multipartBody(fileField, filePath, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: upload %s: %w", ErrRequest, filePath, err)
	}
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body, ContentType: contentType})
}

// Do runs the hooks and sends req. When a RetryHook asks for it after the
// first attempt the request is rebuilt from req and sent once more.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Method = strings.ToUpper(req.Method)

	correlationID := ""
	if req.Headers != nil {
		correlationID = req.Headers[HeaderCorrelationID]
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	for attempt := 0; ; attempt++ {
		r := req.clone()
		r.Headers[HeaderCorrelationID] = correlationID

		for _, h := range c.hooks {
			rh, ok := h.(RequestHook)
			if !ok {
				continue
			}
			if err := rh.BeforeRequest(ctx, &r); err != nil {
				return nil, fmt.Errorf("%s hook: %w", h.Name(), err)
			}
		}

		resp, err := c.send(ctx, r, correlationID)
		if err != nil {
			return nil, err
		}

		if attempt == 0 {
			retry, err := c.shouldRetry(ctx, resp)
			if err != nil {
				return nil, err
			}
			if retry {
				c.logger.Info("re-sending request", "method", r.Method, "path", r.Path, "correlationId", correlationID)
				continue
			}
		}

		for _, h := range c.hooks {
			rh, ok := h.(ResponseHook)
			if !ok {
				continue
			}
			if err := rh.AfterResponse(ctx, resp); err != nil {
				return nil, fmt.Errorf("%s hook: %w", h.Name(), err)
			}
		}
		return resp, nil
	}
}

func (c *Client) shouldRetry(ctx context.Context, resp *Response) (bool, error) {
	for _, h := range c.hooks {
		rh, ok := h.(RetryHook)
		if !ok {
			continue
		}
		retry, err := rh.ShouldRetry(ctx, resp)
		if err != nil {
			return false, fmt.Errorf("%s hook: %w", h.Name(), err)
		}
		if retry {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) resolve(r Request) (string, error) {
	raw := r.Path
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = c.baseURL + "/" + strings.TrimLeft(raw, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url %q: %w", ErrRequest, raw, err)
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, v := range r.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) send(ctx context.Context, r Request, correlationID string) (*Response, error) {
	target, err := c.resolve(r)
	if err != nil {
		return nil, err
	}
	body, contentType, err := r.body()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrRequest, err)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	} else if body == nil {
		httpReq.Header.Del("Content-Type")
	}
	for k, v := range r.Headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Info("sending request", "method", r.Method, "url", target, "correlationId", correlationID)

	start := time.Now()
	res, err := c.http.Do(httpReq)
	if err != nil {
		duration := time.Since(start)
		requestCount.WithLabelValues(r.Method, "error").Inc()
		requestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s timed out after %s: %w", ErrRequest, r.Method, target, c.timeout, err)
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequest, r.Method, target, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	duration := time.Since(start)
	requestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())
	if err != nil {
		requestCount.WithLabelValues(r.Method, "error").Inc()
		return nil, fmt.Errorf("%w: read response body: %w", ErrRequest, err)
	}
	requestCount.WithLabelValues(r.Method, strconv.Itoa(res.StatusCode)).Inc()

	c.logger.Info("request completed",
		"method", r.Method,
		"url", target,
		"status", res.StatusCode,
		"duration", duration,
		"bytes", len(payload),
		"correlationId", correlationID,
	)
	c.logger.Debug("response body", "body", truncate(payload), "correlationId", correlationID)

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       payload,
		Duration:   duration,
		Request:    r,
	}, nil
}

func truncate(b []byte) string {
	const limit = 1024
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
