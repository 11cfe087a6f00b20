// ABOUTME: Transport adapter interfaces for the gateway connection and REST execution.
// ABOUTME: The rest of the runtime never constructs sockets or HTTP requests directly.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrConnClosed indicates an operation on a connection that has already closed.
var ErrConnClosed = errors.New("connection closed")

// Dialer opens framed duplex connections to the gateway.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is one framed duplex connection. Send and Receive carry whole frames;
// the runtime treats frame contents as opaque bytes and decodes them itself.
type Conn interface {
	// Send transmits one frame. Safe for use from the heartbeat and writer
	// paths concurrently.
	Send(ctx context.Context, frame []byte) error

	// Receive blocks until the next frame arrives, the context is cancelled,
	// or the connection closes. A remote-initiated close surfaces as a
	// *CloseError.
	Receive(ctx context.Context) ([]byte, error)

	// Close closes the connection with the given close code and reason.
	// Safe to call more than once.
	Close(code int, reason string) error
}

// Executor performs one HTTP request. The default implementation wraps
// net/http; tests substitute fakes.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// Request is one outbound HTTP request in adapter-neutral form.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the adapter-neutral result of an executed request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// CloseError reports a remote-initiated connection close with its close code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed with code %d", e.Code)
	}
	return fmt.Sprintf("connection closed with code %d: %s", e.Code, e.Reason)
}

// AsCloseError extracts a *CloseError from an error chain, if present.
func AsCloseError(err error) (*CloseError, bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
