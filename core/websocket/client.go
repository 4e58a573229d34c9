package websocket

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// client is the outbound side of one connection. Frames are queued by Send
// and written by the write pump. It exists before the upgrade so the gateway
// can queue the handshake events while the HTTP response is still pending.
type client struct {
	send chan []byte
	done chan struct{}

	once        sync.Once
	closeCode   int
	closeReason string
	slow        atomic.Bool
}

func newClient(queue int) *client {
	return &client{
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

// Send implements gateway.Sink. It never blocks: a full queue closes the client.
func (c *client) Send(event string, data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.slow.Store(true)
		c.close(websocket.CloseTryAgainLater, ErrSlowConsumer.Error())
		return ErrSlowConsumer
	}
}

func (c *client) close(code int, reason string) {
	c.once.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
