package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	sendBufferSize = 256
)

// WriteData is one outbound websocket message
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte

	// audio generation a binary frame was queued under
	generation uint64
}

// Client owns one websocket connection. All data writes go through the
// writePump goroutine; Client implements session.Transport.
type Client struct {
	conn   *websocket.Conn
	send   chan WriteData
	logger *zap.Logger

	closed    chan struct{}
	closeOnce sync.Once

	// Binary frames queued under an older generation are not written.
	audioGeneration atomic.Uint64
	pendingAudio    atomic.Int64
}

var (
	_ session.Transport      = (*Client)(nil)
	_ session.AudioDiscarder = (*Client)(nil)
)

func newClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan WriteData, sendBufferSize),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// SendText implements session.Transport
func (c *Client) SendText(payload []byte) error {
	return c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

// SendBinary implements session.Transport
func (c *Client) SendBinary(payload []byte) error {
	data := WriteData{
		Type:       websocket.BinaryMessage,
		Payload:    payload,
		generation: c.audioGeneration.Load(),
	}
	c.pendingAudio.Add(1)
	if err := c.enqueue(data); err != nil {
		c.pendingAudio.Add(-1)
		return err
	}
	return nil
}

// DiscardPendingAudio implements session.AudioDiscarder. Binary frames
// queued so far are skipped by the writer; text messages keep their order.
func (c *Client) DiscardPendingAudio() int {
	c.audioGeneration.Add(1)
	return int(c.pendingAudio.Load())
}

func (c *Client) enqueue(data WriteData) error {
	select {
	case <-c.closed:
		return session.ErrTransportClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return session.ErrTransportClosed
	}
}

// Close sends a close frame with code and reason and tears the connection
// down. Only the first call has an effect.
func (c *Client) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
	return err
}

// shutdown closes the connection without a close frame
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// writePump pumps queued messages to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case <-c.closed:
			return

		case message := <-c.send:
			if message.Type == websocket.BinaryMessage {
				c.pendingAudio.Add(-1)
				if message.generation != c.audioGeneration.Load() {
					continue
				}
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Warn("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
