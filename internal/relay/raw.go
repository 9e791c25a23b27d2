package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const rawGreeting = "Welcome to the native WebSocket server!"

// RawRelay broadcasts over plain websockets upgraded at the listener root.
// Each connection runs a read pump and a write pump; the relay only ever
// enqueues onto a connection's bounded send queue.
type RawRelay struct {
	*core
	upgrader websocket.Upgrader
	opts     Options

	// mu orders pump registration against Shutdown so wg.Add never races
	// wg.Wait.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewRaw creates a raw relay. Echo defaults to EchoOthers.
func NewRaw(opts Options) *RawRelay {
	opts = opts.withDefaults()
	echo := opts.Echo
	if echo == EchoDefault {
		echo = EchoOthers
	}

	r := &RawRelay{
		core: newCore(ModeRaw, echo, rawGreeting, EncodeRaw, opts.Logger),
		opts: opts,
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(opts.CheckOrigin, r.logger),
	}
	return r
}

// Path is the listener root.
func (r *RawRelay) Path() string { return "/" }

// ServeHTTP upgrades the request, greets the client, registers it and
// starts its pumps.
func (r *RawRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if r.closing.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "remote_addr", req.RemoteAddr, "error", err)
		return
	}

	if !r.trackPumps() {
		r.logger.Debug("refusing connection during shutdown", "remote_addr", req.RemoteAddr)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server is shutting down"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	conn := newRawConn(uuid.NewString(), ws, r, req.RemoteAddr)

	if err := r.Connect(conn); err != nil {
		r.logger.Warn("failed to open connection", "error", err)
		_ = ws.Close()
		r.wg.Add(-2)
		return
	}

	go func() {
		defer r.wg.Done()
		conn.writePump()
	}()
	go func() {
		defer r.wg.Done()
		conn.readPump()
	}()
}

// trackPumps reserves the wait group slots for one connection's pumps. It
// fails once Shutdown has started.
func (r *RawRelay) trackPumps() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing.Load() {
		return false
	}
	r.wg.Add(2)
	return true
}

// Shutdown closes every connection and waits for their pumps to exit or
// for ctx to end.
func (r *RawRelay) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down relay")

	r.mu.Lock()
	r.closing.Store(true)
	r.mu.Unlock()

	closed := r.disconnectAll()
	r.logger.Info("closed client connections", "count", closed)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("relay shutdown completed")
		return nil
	case <-ctx.Done():
		r.logger.Warn("relay shutdown timed out, some connections may still be draining")
		return ctx.Err()
	}
}
