package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// ReadWait is the shortest silence allowed between client messages.
	ReadWait = 5 * time.Minute
	// readMargin is added to the clip length, since an operator who never
	// presses stays silent for a whole clip.
	readMargin = time.Minute
)

// ReadWaitFor returns the read deadline for clips of the given length: the
// clip plus a margin, never below ReadWait.
func ReadWaitFor(clipDuration time.Duration) time.Duration {
	if d := clipDuration + readMargin; d > ReadWait {
		return d
	}
	return ReadWait
}

// Conn serializes writes to a WebSocket. Clip timers fire on their own
// goroutines and write alongside the read loop.
type Conn struct {
	ws       *websocket.Conn
	mu       sync.Mutex
	readWait time.Duration
}

func NewConn(ws *websocket.Conn, readWait time.Duration) *Conn {
	if readWait <= 0 {
		readWait = ReadWait
	}
	return &Conn{ws: ws, readWait: readWait}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket. A retryable
// error leaves the run where it was; the client repeats the action.
func (c *Conn) WriteError(code, errMsg string, retryable bool) error {
	return c.WriteTyped(ErrorResponse{
		Event:     EventError,
		Code:      code,
		Error:     errMsg,
		Retryable: retryable,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func (c *Conn) ReadJSON(v interface{}) error {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readWait))
	return c.ws.ReadJSON(v)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}
