// ABOUTME: Caller-facing REST surface, routed through the rate-limit bucket manager.
// ABOUTME: Only 429s are retried internally; all other outcomes belong to the caller.

package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/perch/ratelimit"
	"github.com/2389/perch/transport"
)

// Config describes a REST client. Token and BaseURL are required.
type Config struct {
	// Token is the opaque credential sent on every request. How it was
	// acquired is not this layer's business.
	Token string

	// BaseURL is the versioned API root, e.g. "https://example.chat/api/v10".
	BaseURL string

	// Executor performs the HTTP requests. Nil means transport.HTTPExecutor
	// on http.DefaultClient.
	Executor transport.Executor

	// Limiter is the shared bucket manager. Created internally when nil —
	// but a process with gateway sessions should pass the same manager the
	// sessions use.
	Limiter *ratelimit.Manager

	UserAgent string
	Logger    *slog.Logger
}

// Client issues requests against the versioned REST API under the rate-limit
// discipline of its bucket manager.
type Client struct {
	token     string
	baseURL   string
	userAgent string
	executor  transport.Executor
	limiter   *ratelimit.Manager
	logger    *slog.Logger
}

// NewClient validates the config and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("rest: token is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest: base url is required")
	}
	executor := cfg.Executor
	if executor == nil {
		executor = &transport.HTTPExecutor{}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewManager(ratelimit.Config{Logger: cfg.Logger})
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "perch (github.com/2389/perch)"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		token:     cfg.Token,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: userAgent,
		executor:  executor,
		limiter:   limiter,
		logger:    logger.With("component", "rest"),
	}, nil
}

// Limiter returns the bucket manager backing this client, for sharing with
// gateway sessions.
func (c *Client) Limiter() *ratelimit.Manager {
	return c.limiter
}

// Do issues one request against a route template. Path parameters fill the
// {name} placeholders and drive bucket resolution. The response status is
// returned as-is: a 404 is a result, not an error. Errors mean the transport
// failed or the route's rate limit was exhausted after the single internal
// 429 retry.
func (c *Client) Do(ctx context.Context, method, template string, params map[string]string, body []byte) (*transport.Response, error) {
	path, err := expandTemplate(template, params)
	if err != nil {
		return nil, err
	}

	route := ratelimit.NewRoute(method, template, params)
	req := transport.Request{
		Method: method,
		URL:    c.baseURL + path,
		Header: c.headers(len(body) > 0),
		Body:   body,
	}

	return c.limiter.Do(ctx, route, func(ctx context.Context) (*transport.Response, error) {
		c.logger.Debug("executing request", "method", method, "route", template)
		return c.executor.Execute(ctx, req)
	})
}

// DoJSON issues a request with a JSON body and decodes a JSON response into
// out (which may be nil). Non-2xx statuses come back as a *StatusError.
func (c *Client) DoJSON(ctx context.Context, method, template string, params map[string]string, in, out any) error {
	var body []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		body = data
	}

	resp, err := c.Do(ctx, method, template, params, body)
	if err != nil {
		return err
	}

	if resp.Status < 200 || resp.Status >= 300 {
		return &StatusError{Status: resp.Status, Body: resp.Body}
	}

	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("decoding response body: %w", err)
		}
	}
	return nil
}

// StatusError reports a non-2xx response from DoJSON.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.Status, string(e.Body))
}

// headers builds the per-request header set.
func (c *Client) headers(hasBody bool) http.Header {
	h := make(http.Header, 3)
	h.Set("Authorization", c.token)
	h.Set("User-Agent", c.userAgent)
	if hasBody {
		h.Set("Content-Type", "application/json")
	}
	return h
}

// expandTemplate substitutes {name} placeholders with escaped parameter
// values. Every placeholder must have a value; extra params are ignored.
func expandTemplate(template string, params map[string]string) (string, error) {
	var b strings.Builder
	rest := template

	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return "", fmt.Errorf("unterminated placeholder in route %q", template)
		}

		name := rest[open+1 : open+closing]
		value, ok := params[name]
		if !ok {
			return "", fmt.Errorf("route %q: missing path parameter %q", template, name)
		}

		b.WriteString(rest[:open])
		b.WriteString(url.PathEscape(value))
		rest = rest[open+closing+1:]
	}
}
