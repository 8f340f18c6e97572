package connection

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Frame types, matching the websocket opcodes.
const (
	TextFrame   = websocket.TextMessage
	BinaryFrame = websocket.BinaryMessage
)

// ErrCleanClose is returned by ReadFrame when the peer shut the
// connection down deliberately. A clean close settles the manager in
// disconnected; anything else triggers reconnection.
var ErrCleanClose = errors.New("connection closed cleanly")

// Conn is one open streaming connection to a device.
type Conn interface {
	ReadFrame() (frameType int, data []byte, err error)
	WriteFrame(frameType int, data []byte) error
	Close() error
}

// Dialer opens streaming connections. Swapped for a fake in tests.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadFrame() (int, []byte, error) {
	frameType, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return 0, nil, ErrCleanClose
		}
		return 0, nil, err
	}
	return frameType, data, nil
}

func (c *wsConn) WriteFrame(frameType int, data []byte) error {
	return c.conn.WriteMessage(frameType, data)
}

func (c *wsConn) Close() error {
	// Best-effort close handshake so the peer sees a clean shutdown.
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.conn.Close()
}
