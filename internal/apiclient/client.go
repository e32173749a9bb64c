// Package apiclient is the shared request pipeline to the card backend.
// A Client carries at most one bearer credential; every request reads it,
// only the session manager writes it.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 * 1024
)

// Client talks to the card backend REST API.
type Client struct {
	base    *url.URL
	http    *http.Client
	logger  *zap.Logger
	metrics *Metrics

	token          atomic.Pointer[string]
	onUnauthorized atomic.Pointer[func(bearer string)]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithUnauthorizedHook registers fn to run when a bearer-authenticated request
// gets 401. fn receives the rejected bearer.
func WithUnauthorizedHook(fn func(bearer string)) Option {
	return func(c *Client) { c.SetUnauthorizedHook(fn) }
}

// New creates a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend root the client was created with.
func (c *Client) BaseURL() string { return c.base.String() }

// SetToken attaches tok as the bearer credential, replacing any previous one.
func (c *Client) SetToken(tok string) {
	if tok == "" {
		c.ClearToken()
		return
	}
	c.token.Store(&tok)
}

// ClearToken detaches the bearer credential.
func (c *Client) ClearToken() { c.token.Store(nil) }

// Bearer returns the attached credential or "".
func (c *Client) Bearer() string {
	if p := c.token.Load(); p != nil {
		return *p
	}
	return ""
}

// SetUnauthorizedHook replaces the hook fired on 401 responses to authenticated
// requests. It only fires while the rejected bearer is still attached.
func (c *Client) SetUnauthorizedHook(fn func(bearer string)) {
	if fn == nil {
		c.onUnauthorized.Store(nil)
		return
	}
	c.onUnauthorized.Store(&fn)
}

type request struct {
	method      string
	route       string // templated path used as metric label
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func jsonRequest(method, route, path string, payload any) (*request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return &request{
		method:      method,
		route:       route,
		path:        path,
		body:        bytes.NewReader(data),
		contentType: "application/json",
	}, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends r and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, r *request, out any) error {
	req, err := http.NewRequestWithContext(ctx, r.method, c.url(r.path, r.query), r.body)
	if err != nil {
		if rc, ok := r.body.(io.Closer); ok {
			_ = rc.Close()
		}
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	bearer := c.Bearer()
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.observe(r.method, r.route, "error", time.Since(start))
		return fmt.Errorf("%s %s: %w", r.method, r.route, err)
	}
	defer resp.Body.Close()
	c.metrics.observe(r.method, r.route, strconv.Itoa(resp.StatusCode), time.Since(start))
	c.logger.Debug("backend request",
		zap.String("method", r.method),
		zap.String("route", r.route),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Status: resp.StatusCode,
			Method: r.method,
			Route:  r.route,
			Detail: parseDetail(body),
		}
		if resp.StatusCode == http.StatusUnauthorized && bearer != "" && c.Bearer() == bearer {
			c.fireUnauthorized(bearer)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode %s %s: %w", r.method, r.route, err)
	}
	return nil
}

func (c *Client) fireUnauthorized(bearer string) {
	if fn := c.onUnauthorized.Load(); fn != nil {
		(*fn)(bearer)
	}
}
