package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vyrodovalexey/speechrelay/internal/relay"
)

const (
	sendBufferSize = 16
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
)

var (
	// ErrConnectionClosed is returned when pushing to a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSlowConsumer is returned when a connection's send buffer is full.
	ErrSlowConsumer = errors.New("connection send buffer full")
)

// Conn is a registered WebSocket connection. All writes go through a
// single writer goroutine fed by a bounded queue.
type Conn struct {
	id     string
	role   relay.Role
	source string

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newConn(id string, role relay.Role, source string, ws *websocket.Conn) *Conn {
	return &Conn{
		id:     id,
		role:   role,
		source: source,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Role returns the role declared at connection time.
func (c *Conn) Role() relay.Role { return c.role }

// Push implements relay.Handle. It never blocks on the peer.
func (c *Conn) Push(_ context.Context, msg relay.Message) error {
	return c.Emit(EventSpeak, SpeakPayload{Text: msg.Text})
}

// Emit queues an event for the peer.
func (c *Conn) Emit(event string, data any) error {
	frame, err := EncodeEnvelope(event, data)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Conn) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSlowConsumer
	}
}

// Close stops the writer, which then closes the socket. It is idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writeLoop owns all writes to the socket and closes it on exit.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.drain()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes frames queued before Close.
func (c *Conn) drain() {
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
