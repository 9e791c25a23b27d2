package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/olahol/melody"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/devrelay/internal/config"
	"github.com/Tyrowin/devrelay/internal/logging"
)

const groupedGreeting = "Welcome to the grouped relay server!"

// Inbound and reply event names on the grouped transport.
const (
	EventMessage    = "message"
	EventJoin       = "join"
	EventJoined     = "joined"
	EventLeave      = "leave"
	EventLeft       = "left"
	EventDBTest     = "db_test"
	EventDBResponse = "db_response"
)

// connKey is the melody session key holding the session's *groupedConn.
const connKey = "relay.conn"

// GroupedRelay multiplexes named events and rooms over one websocket per
// client, using melody for the session lifecycle.
type GroupedRelay struct {
	*core
	m    *melody.Melody
	opts Options
}

// NewGrouped creates a grouped relay. Echo defaults to EchoAll.
func NewGrouped(opts Options) *GroupedRelay {
	opts = opts.withDefaults()
	echo := opts.Echo
	if echo == EchoDefault {
		echo = EchoAll
	}

	g := &GroupedRelay{
		core: newCore(ModeGrouped, echo, groupedGreeting, EncodeGrouped, opts.Logger),
		m:    melody.New(),
		opts: opts,
	}

	g.m.Config.MaxMessageSize = opts.MaxMessageSize
	g.m.Upgrader.CheckOrigin = checkOrigin(opts.CheckOrigin, g.logger)

	g.m.HandleConnect(g.handleConnect)
	g.m.HandleMessage(g.handleMessage)
	g.m.HandleDisconnect(g.handleDisconnect)
	g.m.HandleError(g.handleError)

	return g
}

// Path is the multiplexed handshake path.
func (g *GroupedRelay) Path() string { return "/relay/" }

// ServeHTTP hands the request to melody, which upgrades it and blocks until
// the session ends.
func (g *GroupedRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if g.closing.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if err := g.m.HandleRequest(w, r); err != nil && !errors.Is(err, melody.ErrClosed) {
		g.logger.Debug("websocket session ended", "remote_addr", r.RemoteAddr, "error", err)
	}
}

// Shutdown closes every session. Melody's close is synchronous, so ctx only
// bounds the caller's patience.
func (g *GroupedRelay) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down relay")
	g.closing.Store(true)

	closed := g.disconnectAll()
	g.logger.Info("closed client connections", "count", closed)

	if err := g.m.Close(); err != nil && !errors.Is(err, melody.ErrClosed) {
		return err
	}
	return ctx.Err()
}

func (g *GroupedRelay) handleConnect(s *melody.Session) {
	conn := newGroupedConn(uuid.NewString(), s, g.opts.RateLimit, g.logger)
	s.Set(connKey, conn)

	if err := g.Connect(conn); err != nil {
		g.logger.Warn("failed to open connection", "error", err)
	}
}

func (g *GroupedRelay) handleDisconnect(s *melody.Session) {
	if conn := sessionConn(s); conn != nil {
		g.Disconnect(conn)
	}
}

func (g *GroupedRelay) handleError(s *melody.Session, err error) {
	conn := sessionConn(s)
	if conn == nil {
		g.logger.Debug("websocket error before session was registered", "error", err)
		return
	}

	// Closing a session whose buffer is full reports the full buffer again.
	if conn.State() == StateClosed {
		return
	}

	terr := &TransportError{ConnID: conn.ID(), Op: "transport", Err: err}
	if errors.Is(err, melody.ErrMessageBufferFull) {
		g.logger.Warn("dropping client with full send buffer", "error", terr)
		g.Disconnect(conn)
		return
	}
	g.logger.Debug("websocket error", "error", terr)
}

func (g *GroupedRelay) handleMessage(s *melody.Session, msg []byte) {
	conn := sessionConn(s)
	if conn == nil || conn.State() != StateOpen {
		return
	}

	if !conn.limiter.Allow() {
		conn.logger.Warn("rate limit exceeded, discarding message",
			"burst", g.opts.RateLimit.Burst,
			"interval", g.opts.RateLimit.RefillInterval)
		return
	}

	var frame groupedFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		perr := &ParseError{ConnID: conn.ID(), Err: err}
		conn.logger.Warn("dropping message", "error", perr)
		return
	}

	g.dispatch(conn, frame)
}

// dispatch routes one decoded inbound event.
func (g *GroupedRelay) dispatch(conn *groupedConn, frame groupedFrame) {
	switch frame.Event {
	case EventMessage:
		g.handleBroadcastEvent(conn, frame)
	case EventJoin:
		g.handleRoomEvent(conn, frame, EventJoined, conn.join)
	case EventLeave:
		g.handleRoomEvent(conn, frame, EventLeft, conn.leave)
	case EventDBTest:
		g.reply(conn, EventDBResponse, "", dbInfo{
			Type:   g.opts.Database.Type,
			Host:   g.opts.Database.Host,
			Name:   g.opts.Database.Name,
			Status: "connected",
		})
	default:
		conn.logger.Debug("ignoring unknown event", "event", frame.Event)
	}
}

func (g *GroupedRelay) handleBroadcastEvent(conn *groupedConn, frame groupedFrame) {
	if frame.Room == "" {
		_ = g.Broadcast(conn, frame.Data)
		return
	}

	if !conn.inRoom(frame.Room) {
		conn.logger.Warn("dropping message for room the client has not joined", "room", frame.Room)
		return
	}

	room := frame.Room
	_ = g.broadcast(conn, frame.Data, room, func(c Conn) bool {
		gc, ok := c.(*groupedConn)
		return ok && gc.inRoom(room)
	})
}

func (g *GroupedRelay) handleRoomEvent(conn *groupedConn, frame groupedFrame, reply string, apply func(string)) {
	var room string
	if err := json.Unmarshal(frame.Data, &room); err != nil || strings.TrimSpace(room) == "" {
		if err == nil {
			err = errors.New("room name is empty")
		}
		conn.logger.Warn("dropping room event", "event", frame.Event, "error", &ParseError{ConnID: conn.ID(), Err: err})
		return
	}

	apply(room)
	g.reply(conn, reply, room, roomInfo{Room: room, Timestamp: FormatTimestamp(g.now())})
}

// reply sends an event to conn alone.
func (g *GroupedRelay) reply(conn *groupedConn, event, room string, data any) {
	frame, err := encodeEvent(event, room, data)
	if err != nil {
		conn.logger.Error("encode reply", "event", event, "error", err)
		return
	}
	if err := conn.Send(frame); err != nil {
		conn.logger.Warn("reply failed", "event", event, "error", &TransportError{ConnID: conn.ID(), Op: "send", Err: err})
		g.Disconnect(conn)
	}
}

type dbInfo struct {
	Type   string `json:"type"`
	Host   string `json:"host"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type roomInfo struct {
	Room      string `json:"room"`
	Timestamp string `json:"timestamp"`
}

// groupedConn adapts a melody session to Conn and tracks its rooms.
type groupedConn struct {
	connState
	id      string
	session *melody.Session
	limiter *rate.Limiter
	logger  *logging.Logger

	mu    sync.RWMutex
	rooms map[string]struct{}
}

func newGroupedConn(id string, s *melody.Session, limit config.RateLimitConfig, logger *logging.Logger) *groupedConn {
	addr := ""
	if s != nil && s.Request != nil {
		addr = s.Request.RemoteAddr
	}
	return &groupedConn{
		id:      id,
		session: s,
		limiter: newLimiter(limit),
		logger:  logger.With("conn_id", id, "remote_addr", addr),
		rooms:   make(map[string]struct{}),
	}
}

func sessionConn(s *melody.Session) *groupedConn {
	v, ok := s.Get(connKey)
	if !ok {
		return nil
	}
	conn, _ := v.(*groupedConn)
	return conn
}

func (c *groupedConn) ID() string { return c.id }

// Send queues data on the melody session. A full session buffer surfaces
// through the relay's error handler rather than here.
func (c *groupedConn) Send(data []byte) error {
	if err := c.session.Write(data); err != nil {
		if errors.Is(err, melody.ErrSessionClosed) {
			return ErrConnClosed
		}
		return err
	}
	return nil
}

func (c *groupedConn) Close() error {
	if err := c.session.Close(); err != nil {
		if errors.Is(err, melody.ErrSessionClosed) {
			return ErrConnClosed
		}
		return err
	}
	return nil
}

func (c *groupedConn) join(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

func (c *groupedConn) leave(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

func (c *groupedConn) inRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}
