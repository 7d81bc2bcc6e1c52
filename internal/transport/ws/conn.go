// Package ws exposes the hub over WebSocket: a gorilla/websocket connection
// adapter and the HTTP routes for connecting, subscribing, and inspecting
// the server.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ataxia123/bonfire-hub/internal/hub"
)

var errConnClosed = errors.New("connection closed")

// Conn adapts a gorilla WebSocket connection to hub.Conn. Writes are
// serialized under a mutex and bounded by a write deadline; the first failed
// write marks the connection dead.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu    sync.Mutex
	alive bool
}

// NewConn wraps c. A writeTimeout of zero disables the write deadline.
//
// Precondition: c must be non-nil.
func NewConn(c *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		ws:           c,
		writeTimeout: writeTimeout,
		alive:        true,
	}
}

// Send writes event as a JSON text message.
func (c *Conn) Send(event hub.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return errConnClosed
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteJSON(event); err != nil {
		c.alive = false
		return err
	}
	return nil
}

// Close tears down the underlying connection. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return nil
	}
	c.alive = false
	return c.ws.Close()
}

// Alive reports whether the connection has neither failed a write nor been
// closed.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}
