package mempool

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// Full pending transactions with large calldata overflow the 32KiB default
const defaultReadLimit = 4 << 20

// Conn is a subscribed JSON-RPC stream
type Conn interface {
	// Read blocks until the next text message arrives
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens provider connections
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebSocketDialer dials providers with nhooyr.io/websocket
type WebSocketDialer struct {
	httpClient *http.Client
	readLimit  int64
}

// NewWebSocketDialer creates a dialer that forces HTTP/1.1 for the upgrade handshake
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2: false,
			},
		},
		readLimit: defaultReadLimit,
	}
}

// Dial connects to a WebSocket endpoint
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: d.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial WebSocket: %w", err)
	}
	conn.SetReadLimit(d.readLimit)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		// Only process text messages
		if msgType != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Ping needs a concurrent Read to observe the pong, which the read loop provides
func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
