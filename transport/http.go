// ABOUTME: Default HTTP executor wrapping net/http for the REST surface.
// ABOUTME: Reads full response bodies so callers never manage io.ReadCloser lifetimes.

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPExecutor is the default Executor. A nil Client uses http.DefaultClient.
type HTTPExecutor struct {
	Client *http.Client
}

// Execute performs the request and buffers the full response body.
func (e *HTTPExecutor) Execute(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for key, values := range req.Header {
		httpReq.Header[key] = values
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}
