package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/codecollab/collabd/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// Conn wraps one client websocket. Control frames (presence, chat) queue on
// the buffered send channel; document replication is driven by the wake
// channel, which coalesces any number of pending updates into one drain of
// the sync state. Owned by the controller, which must Close() it.
type Conn struct {
	conn *websocket.Conn
	send chan core.Frame
	wake chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newConn(wsc *websocket.Conn, sendBuffer int) *Conn {
	return &Conn{
		conn: wsc,
		send: make(chan core.Frame, sendBuffer),
		wake: make(chan struct{}, 1),
	}
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) WakeSync() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
