package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrBackpressure = errors.New("connection send buffer full")
	ErrClosed       = errors.New("connection closed")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Conn is one live hub connection. Writes go through a buffered channel and a
// single write pump; delivery is at-most-once and a slow consumer sheds
// messages rather than blocking the broadcaster. The send channel is never
// closed: teardown closes done instead, so a broadcast racing the teardown
// fails the send rather than panicking.
type Conn struct {
	Identity Identity

	ws   WSConn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewConn(id Identity, ws WSConn) *Conn {
	return &Conn{
		Identity: id,
		ws:       ws,
		send:     make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

func (c *Conn) TrySend(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// StartWritePump pumps queued frames to the socket and keeps the connection
// alive with pings. Owns the socket: closes it on exit.
func (c *Conn) StartWritePump() {
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer func() {
			ticker.Stop()
			c.Close()
		}()
		for {
			select {
			case <-c.done:
				return
			case data := <-c.send:
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			case <-ticker.C:
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}
