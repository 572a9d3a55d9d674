// ABOUTME: WebSocket connection wrapper with a bounded outbound queue
// ABOUTME: Serializes writes through one goroutine and keeps the peer alive with pings

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
	pingPeriod = 30 * time.Second

	// closeWait bounds the close frame written on teardown.
	closeWait = time.Second

	// DefaultSendBuffer is the outbound queue length per connection.
	DefaultSendBuffer = 128
)

var (
	// ErrConnectionClosed is returned by Send after Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a slow peer has filled its queue.
	// The connection is marked closed at the same time.
	ErrSendBufferFull = errors.New("connection send buffer full")
)

// Connection wraps a websocket and coordinates outbound writes via a buffered
// channel. It is safe for concurrent use.
type Connection struct {
	id     string
	userID int64

	ws         *websocket.Conn
	send       chan []byte
	done       chan struct{}
	once       sync.Once
	pingPeriod time.Duration

	// set once, before done is closed
	closeCode   int
	closeReason string
}

var _ Conn = (*Connection)(nil)

// NewConnection constructs a Connection for the given user.
// A bufferSize <= 0 uses DefaultSendBuffer.
func NewConnection(userID int64, ws *websocket.Conn, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBuffer
	}
	return &Connection{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		send:       make(chan []byte, bufferSize),
		done:       make(chan struct{}),
		pingPeriod: pingPeriod,
	}
}

// ID returns the unique connection ID.
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated user behind the connection.
func (c *Connection) UserID() int64 { return c.userID }

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Start launches the write loop. It must be called exactly once per connection;
// the write loop owns the socket and closes it on teardown.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload for delivery without blocking. If the peer is slow and
// the buffer is full, the connection is closed so backpressure stays bounded;
// the client is expected to reconnect and reload history.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.Close(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close marks the connection closed and returns immediately. The write loop
// sends the close frame and releases the socket. Only the first call has an
// effect.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	defer c.teardown()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

// teardown runs on the write loop, the only writer of the socket.
func (c *Connection) teardown() {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(c.closeCode, c.closeReason),
		time.Now().Add(closeWait))
	_ = c.ws.Close()
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
