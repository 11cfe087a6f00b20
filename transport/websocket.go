// ABOUTME: Default gateway transport built on coder/websocket.
// ABOUTME: Translates websocket close statuses into transport.CloseError values.

package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// WebsocketDialer is the default Dialer. The zero value is usable; HTTPClient
// overrides the client used for the upgrade handshake.
type WebsocketDialer struct {
	HTTPClient *http.Client

	// ReadLimit overrides the maximum inbound frame size in bytes.
	// Zero means 4 MiB, enough for the largest documented gateway payloads.
	ReadLimit int64
}

// Dial opens a websocket connection to the gateway URL.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	opts := &websocket.DialOptions{HTTPClient: d.HTTPClient}

	ws, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("dialing gateway %s: %w", url, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = 4 << 20
	}
	ws.SetReadLimit(limit)

	return &wsConn{ws: ws}, nil
}

// wsConn adapts a *websocket.Conn to the Conn interface.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return wrapWSError(err)
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, wrapWSError(err)
	}
	return data, nil
}

func (c *wsConn) Close(code int, reason string) error {
	// Close errors after a remote close are expected; the session only cares
	// that the connection is gone.
	_ = c.ws.Close(websocket.StatusCode(code), reason)
	return nil
}

// wrapWSError converts websocket close statuses into *CloseError so the
// session state machine can partition them into resumable vs not.
func wrapWSError(err error) error {
	if status := websocket.CloseStatus(err); status != -1 {
		return &CloseError{Code: int(status), Reason: err.Error()}
	}
	return err
}
