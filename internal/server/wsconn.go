package server

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opa-platform/quotes-data/internal/config"
)

// Errors returned by Send when the connection cannot accept a payload. The
// relay reacts by unregistering the subscriber.
var (
	ErrSendBufferFull = errors.New("subscriber send buffer full")
	ErrConnClosed     = errors.New("subscriber connection closed")
)

// wsConn adapts a WebSocket connection to the registry's Sink. Outbound
// payloads go through a buffered channel drained by a single write pump, so
// Send never blocks the fan-out path.
type wsConn struct {
	conn   *websocket.Conn
	cfg    config.SubscribersConfig
	logger *slog.Logger

	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	reason    error

	// onClose runs exactly once when the connection terminates, after the
	// close frame is sent. The server uses it to unregister.
	onClose func()
}

func newWSConn(conn *websocket.Conn, cfg config.SubscribersConfig, logger *slog.Logger, onClose func()) *wsConn {
	return &wsConn{
		conn:    conn,
		cfg:     cfg,
		logger:  logger,
		send:    make(chan []byte, cfg.SendBuffer),
		closed:  make(chan struct{}),
		onClose: onClose,
	}
}

// Send queues a payload for the write pump. It fails fast instead of
// blocking: a full buffer means the consumer is too slow to keep.
func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Shutdown terminates the connection. A nil reason is a normal close; a
// non-nil reason is surfaced to the client as an internal-error close frame.
func (c *wsConn) Shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.closed)
	})
}

// run starts the read and write pumps and blocks until the connection
// terminates.
func (c *wsConn) run() {
	go c.readPump()
	c.writePump()

	if c.onClose != nil {
		c.onClose()
	}
}

// writePump is the single writer on the connection. It drains the send
// buffer, keeps the connection alive with pings, and emits the close frame.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("subscriber write failed", "error", err)
				c.Shutdown(nil)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Shutdown(nil)
				return
			}

		case <-c.closed:
			code := websocket.CloseNormalClosure
			text := ""
			if c.reason != nil {
				code = websocket.CloseInternalServerErr
				text = "stream terminated"
			}
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

// readPump consumes inbound frames to keep pong handling alive. Subscribers
// send nothing meaningful; any read error ends the connection.
func (c *wsConn) readPump() {
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.Shutdown(nil)
			return
		}
	}
}
