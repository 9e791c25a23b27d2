package relay

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/devrelay/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// rawConn is one plain websocket client. The read pump feeds the relay; the
// write pump is the only goroutine that writes to the socket.
type rawConn struct {
	connState
	id        string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	relay     *RawRelay
	addr      string
	limiter   *rate.Limiter
	logger    *logging.Logger
}

func newRawConn(id string, ws *websocket.Conn, r *RawRelay, addr string) *rawConn {
	if ws != nil {
		ws.SetReadLimit(r.opts.MaxMessageSize)
	}

	return &rawConn{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		relay:   r,
		addr:    addr,
		limiter: newLimiter(r.opts.RateLimit),
		logger:  r.logger.With("conn_id", id, "remote_addr", addr),
	}
}

func (c *rawConn) ID() string { return c.id }

// Send enqueues data for the write pump. It never blocks: a full queue is
// reported as ErrQueueFull and the caller drops the connection.
func (c *rawConn) Send(data []byte) error {
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
		return ErrQueueFull
	}
}

// Close signals the write pump to send a close frame and release the socket.
func (c *rawConn) Close() error {
	closed := false
	c.closeOnce.Do(func() {
		close(c.done)
		closed = true
	})
	if !closed {
		return ErrConnClosed
	}
	return nil
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *rawConn) setupReadConnection() {
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug("set initial read deadline", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *rawConn) readPump() {
	defer c.relay.Disconnect(c)

	c.setupReadConnection()

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.limiter.Allow() {
			c.logger.Warn("rate limit exceeded, discarding message",
				"burst", c.relay.opts.RateLimit.Burst,
				"interval", c.relay.opts.RateLimit.RefillInterval)
			continue
		}

		// Parse failures are logged by the relay and leave the connection open.
		_ = c.relay.Broadcast(c, payload)
	}
}

// handleReadError logs why the read loop ended at a level matching how
// surprising it is.
func (c *rawConn) handleReadError(err error) {
	terr := &TransportError{ConnID: c.id, Op: "read", Err: err}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded maximum size", "max_bytes", c.relay.opts.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Debug("client closed connection", "error", terr)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Debug("connection closed", "error", terr)
	default:
		c.logger.Warn("websocket read error", "error", terr)
	}
}

func (c *rawConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeSocket()
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			c.flush()
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is already queued so a closing client still gets
// envelopes accepted before the close.
func (c *rawConn) flush() {
	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}
		default:
			return
		}
	}
}

// write sends one frame and reports whether the pump should continue.
func (c *rawConn) write(messageType int, data []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("set write deadline", "error", err)
		return false
	}
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("websocket write error", "error", &TransportError{ConnID: c.id, Op: "write", Err: err})
		}
		// Wake the read pump so the relay unregisters this connection.
		_ = c.Close()
		return false
	}
	return true
}

func (c *rawConn) closeSocket() {
	if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("close socket", "error", err)
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
