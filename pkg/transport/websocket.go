package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn adapts a WebSocket connection to net.Conn so the stream
// transport can frame lines over it. Each Write becomes one text message;
// Read concatenates incoming text messages.
type WebSocketConn struct {
	ws      *websocket.Conn
	readBuf bytes.Buffer
	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

// NewWebSocket creates the WebSocket transport. It speaks the same line
// grammar as TCP, one or more lines per text frame.
func NewWebSocket(opts Options) *Stream {
	opts = opts.withDefaults()
	netDial := netDialer(opts)
	addr := net.JoinHostPort(opts.Server, strconv.Itoa(opts.Port))
	path := opts.WSPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return NewStream("ws", func(ctx context.Context) (net.Conn, error) {
		conn, err := DialWebSocket(ctx, addr, path, netDial)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, opts)
}

// DialWebSocket performs the HTTP upgrade against ws://addr/path using netDial
// for the underlying connection.
func DialWebSocket(ctx context.Context, addr, path string, netDial func(ctx context.Context, network, addr string) (net.Conn, error)) (*WebSocketConn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: path}

	dialer := &websocket.Dialer{
		NetDialContext:   netDial,
		HandshakeTimeout: dialTimeout,
		ReadBufferSize:   MaxPendingLine,
		WriteBufferSize:  4096,
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed (HTTP %d): %w", u.String(), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", u.String(), err)
	}

	return &WebSocketConn{ws: ws}, nil
}

// Read implements net.Conn.Read
func (c *WebSocketConn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	// Drain buffered data before reading the next message.
	for c.readBuf.Len() == 0 {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, normalizeWSError(err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.readBuf.Write(data)
	}

	return c.readBuf.Read(b)
}

// Write implements net.Conn.Write
func (c *WebSocketConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return 0, net.ErrClosed
	}
	c.closeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close sends a close frame and closes the underlying connection
func (c *WebSocketConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	// WriteControl may run concurrently with WriteMessage.
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return c.ws.Close()
}

// LocalAddr implements net.Conn.LocalAddr
func (c *WebSocketConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

// RemoteAddr implements net.Conn.RemoteAddr
func (c *WebSocketConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// SetDeadline implements net.Conn.SetDeadline
func (c *WebSocketConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

// SetReadDeadline implements net.Conn.SetReadDeadline
func (c *WebSocketConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn.SetWriteDeadline
func (c *WebSocketConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

// normalizeWSError maps a clean close from the server to io.EOF so the
// stream transport reports it as an ordinary disconnect.
func normalizeWSError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	return err
}
