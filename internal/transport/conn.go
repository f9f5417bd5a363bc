package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/dispatch"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is one panel connection. It is the dispatcher's subscriber handle.
type Conn struct {
	id     string
	remote string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

var _ dispatch.Subscriber = (*Conn)(nil)

func newConn(ws *websocket.Conn, buffer int) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		remote: ws.RemoteAddr().String(),
		ws:     ws,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// ID returns the connection's unique handle.
func (c *Conn) ID() string { return c.id }

// Send queues msg for the write pump. It never blocks: a full buffer drops
// the message and reports ErrSendBufferFull.
func (c *Conn) Send(_ context.Context, msg dispatch.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.enqueue(data)
}

func (c *Conn) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// writePump owns all data writes to the socket. The send channel is never
// closed; done ends the pump.
func (c *Conn) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("Websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
