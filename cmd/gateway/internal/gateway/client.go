package gateway

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// ClientAdapter owns one websocket connection. The write pump is the only
// writer; the read pump only watches for close and errors, since both
// channels are server-push.
type ClientAdapter struct {
	id     string
	conn   net.Conn
	send   chan []byte
	done   chan struct{}
	logger *zap.Logger

	once    sync.Once
	onClose func()

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, logger *zap.Logger) *ClientAdapter {
	id := uuid.NewString()
	return &ClientAdapter{
		id:         id,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("client", id)),
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

// Start runs the pumps. onClose runs exactly once when the connection ends,
// however many times that is reported.
func (c *ClientAdapter) Start(onClose func()) {
	c.onClose = onClose
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.id }

// Close ends the connection. Safe to call repeatedly and from any goroutine.
func (c *ClientAdapter) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
		c.logger.Debug("Client closed")
	})
}

// Done is closed once the connection has ended.
func (c *ClientAdapter) Done() <-chan struct{} { return c.done }

// SendBytes queues a frame without blocking. Frames are dropped when the
// buffer is full or the connection has ended.
func (c *ClientAdapter) SendBytes(b []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- b:
	case <-c.done:
	default:
		c.logger.Debug("Send buffer full, dropping frame")
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			return
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		default:
			// nothing is accepted from clients
		}
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			c.conn.Write(ws.CompiledClose)
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				c.logger.Debug("Write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
