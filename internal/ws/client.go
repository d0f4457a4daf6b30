package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// clientConn is one connected participant. It satisfies session.Conn.
type clientConn struct {
	id      string
	userID  string // empty for unauthenticated connections
	rawConn *websocket.Conn
	mu      sync.Mutex
}

func (c *clientConn) ID() string     { return c.id }
func (c *clientConn) UserID() string { return c.userID }

// Send pushes a server-initiated event inside the standard envelope.
func (c *clientConn) Send(event string, body any) error {
	return c.writeJSON(map[string]any{
		"event": event,
		"body":  body,
	})
}

func (c *clientConn) Close(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.rawConn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.rawConn.Close()
}

func (c *clientConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteJSON(v)
}
