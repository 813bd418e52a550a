package transport

import (
	"errors"
	"sync"
)

type ConnID string

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Conn is the hub-side endpoint of one live connection: a buffered
// outbox drained by the adapter's write pump. TrySend never blocks; a
// full buffer means the consumer is too slow and the frame is dropped.
type Conn struct {
	id   ConnID
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func NewConn(id ConnID, buffer int) *Conn {
	return &Conn{id: id, send: make(chan []byte, buffer)}
}

func (c *Conn) ID() ConnID { return c.id }

// Outbox is drained by the owning adapter; it is closed by Close.
func (c *Conn) Outbox() <-chan []byte { return c.send }

func (c *Conn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
