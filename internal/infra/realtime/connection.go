package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 128

	// MaxFrameSize bounds inbound client frames.
	MaxFrameSize = 4096
)

const (
	CloseNormal          = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	ClosePolicyViolation = websocket.ClosePolicyViolation
)

var (
	ErrConnectionClosed = errors.New("realtime: connection closed")
	ErrBufferFull       = errors.New("realtime: send buffer full")
)

// Connection wraps a websocket. Outbound writes go through a buffered channel drained
// by a single writer goroutine.
type Connection struct {
	id     string
	UserID string

	ws      *websocket.Conn
	send    chan []byte
	once    sync.Once
	done    chan struct{}
	started sync.Once
}

func NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

// Start launches the write loop.
func (c *Connection) Start() {
	c.started.Do(func() { go c.writeLoop() })
}

// Send enqueues payload. A slow client whose buffer is full is disconnected.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(CloseGoingAway, "send buffer full")
		return ErrBufferFull
	}
}

// Close sends a close frame and tears down the socket. Safe to call repeatedly.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Read blocks for the next text frame, applying the given deadline when non-zero.
func (c *Connection) Read(deadline time.Time) ([]byte, error) {
	if !deadline.IsZero() {
		if err := c.ws.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// KeepAlive arms the pong handler so idle but healthy clients stay connected.
func (c *Connection) KeepAlive() {
	c.ws.SetReadLimit(MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// ExtendRead pushes the read deadline after client activity.
func (c *Connection) ExtendRead() {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
