package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Tyrowin/devrelay/internal/config"
	"github.com/Tyrowin/devrelay/internal/logging"
)

// Mode selects the transport. It is fixed for the life of the process.
type Mode string

// Supported modes.
const (
	ModeGrouped Mode = config.ModeGrouped
	ModeRaw     Mode = config.ModeRaw
)

// EchoPolicy decides whether a sender receives its own broadcast.
type EchoPolicy int

// Echo policies. EchoDefault resolves to the mode's own default.
const (
	EchoDefault EchoPolicy = iota
	EchoAll
	EchoOthers
)

// echoPolicy maps a configured echo name to a policy; "" is EchoDefault.
func echoPolicy(name string) (EchoPolicy, error) {
	canonical, err := config.ParseEcho(name)
	if err != nil {
		return EchoDefault, err
	}

	switch canonical {
	case config.EchoAll:
		return EchoAll, nil
	case config.EchoOthers:
		return EchoOthers, nil
	default:
		return EchoDefault, nil
	}
}

func (p EchoPolicy) String() string {
	switch p {
	case EchoAll:
		return config.EchoAll
	case EchoOthers:
		return config.EchoOthers
	default:
		return "default"
	}
}

// Health is the relay's health report.
type Health struct {
	Status    string `json:"status"`
	Mode      Mode   `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Relay accepts connections over one transport and fans messages out.
type Relay interface {
	// ServeHTTP is the transport endpoint; it upgrades the request.
	http.Handler

	// Mode reports the transport in use.
	Mode() Mode
	// Path is where the transport endpoint is mounted.
	Path() string

	// Connect sends the welcome envelope to c alone, then registers it.
	Connect(c Conn) error
	// Broadcast delivers payload from sender to every registered connection
	// allowed by the echo policy. An unparsable payload yields *ParseError
	// and nothing is sent.
	Broadcast(sender Conn, payload []byte) error
	// Disconnect unregisters c and releases its transport. Idempotent.
	Disconnect(c Conn)
	// HealthInfo never fails and has no side effects.
	HealthInfo() Health
	// Len is the number of registered connections.
	Len() int
	// Shutdown disconnects every connection and refuses new ones.
	Shutdown(ctx context.Context) error
}

// Options configures a relay. Zero values fall back to config defaults.
type Options struct {
	Echo           EchoPolicy
	CheckOrigin    func(r *http.Request) bool
	MaxMessageSize int64
	RateLimit      config.RateLimitConfig
	Database       config.DatabaseConfig
	Logger         *logging.Logger
}

// OptionsFromConfig derives relay options from the service configuration.
func OptionsFromConfig(cfg config.Config, logger *logging.Logger) (Options, error) {
	echo, err := echoPolicy(cfg.Echo)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Echo:           echo,
		CheckOrigin:    cfg.Origins().AllowsRequest,
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit:      cfg.RateLimit,
		Database:       cfg.Database,
		Logger:         logger,
	}, nil
}

// New builds the relay for mode.
func New(mode Mode, opts Options) (Relay, error) {
	opts = opts.withDefaults()

	switch mode {
	case ModeRaw:
		return NewRaw(opts), nil
	case ModeGrouped:
		return NewGrouped(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

func (o Options) withDefaults() Options {
	def := config.Default()
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = def.MaxMessageSize
	}
	if o.RateLimit.Burst <= 0 {
		o.RateLimit.Burst = def.RateLimit.Burst
	}
	if o.RateLimit.RefillInterval <= 0 {
		o.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = def.Origins().AllowsRequest
	}
	return o
}

// newLimiter builds a token bucket holding burst messages that refills
// completely every interval.
func newLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	perSecond := float64(cfg.Burst) / cfg.RefillInterval.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), cfg.Burst)
}

// core holds the registry and the transport-independent half of the relay
// contract. Both transports embed it.
type core struct {
	mode     Mode
	echo     EchoPolicy
	greeting string
	encode   Encoder
	registry *Registry
	logger   *logging.Logger
	now      func() time.Time
	closing  atomic.Bool
}

func newCore(mode Mode, echo EchoPolicy, greeting string, encode Encoder, logger *logging.Logger) *core {
	return &core{
		mode:     mode,
		echo:     echo,
		greeting: greeting,
		encode:   encode,
		registry: NewRegistry(),
		logger:   logger.With("mode", string(mode)),
		now:      time.Now,
	}
}

func (c *core) Mode() Mode { return c.mode }

func (c *core) Len() int { return c.registry.Len() }

func (c *core) HealthInfo() Health {
	return Health{
		Status:    "OK",
		Mode:      c.mode,
		Timestamp: FormatTimestamp(c.now()),
	}
}

// Echo reports the effective echo policy.
func (c *core) Echo() EchoPolicy { return c.echo }

func (c *core) Connect(conn Conn) error {
	if c.closing.Load() {
		c.Disconnect(conn)
		return &TransportError{ConnID: conn.ID(), Op: "open", Err: ErrConnClosed}
	}

	frame, err := c.encode(Envelope{
		Kind:      KindWelcome,
		Greeting:  c.greeting,
		Timestamp: c.now(),
	})
	if err != nil {
		return fmt.Errorf("encode welcome: %w", err)
	}

	// The welcome is queued before the connection becomes visible to
	// broadcasts, so it is always the first envelope delivered.
	if err := conn.Send(frame); err != nil {
		c.Disconnect(conn)
		return &TransportError{ConnID: conn.ID(), Op: "welcome", Err: err}
	}

	if !conn.lifecycle().markOpen() {
		return &TransportError{ConnID: conn.ID(), Op: "open", Err: ErrConnClosed}
	}

	if err := c.registry.Add(conn); err != nil {
		conn.lifecycle().markClosed()
		_ = conn.Close()
		return &TransportError{ConnID: conn.ID(), Op: "register", Err: err}
	}

	// Shutdown sets closing before it snapshots the registry, so a
	// connection added after that snapshot is seen here and rolled back.
	if c.closing.Load() {
		c.Disconnect(conn)
		return &TransportError{ConnID: conn.ID(), Op: "open", Err: ErrConnClosed}
	}

	c.logger.Info("client connected", "conn_id", conn.ID(), "clients", c.registry.Len())
	return nil
}

func (c *core) Disconnect(conn Conn) {
	if conn == nil {
		return
	}

	closed := conn.lifecycle().markClosed()
	removed := c.registry.Remove(conn.ID())

	if err := conn.Close(); err != nil && !errors.Is(err, ErrConnClosed) {
		c.logger.Debug("close connection", "conn_id", conn.ID(), "error", err)
	}

	if closed || removed {
		c.logger.Info("client disconnected", "conn_id", conn.ID(), "clients", c.registry.Len())
	}
}

func (c *core) Broadcast(sender Conn, payload []byte) error {
	return c.broadcast(sender, payload, "", nil)
}

// broadcast validates payload and delivers it to every registered open
// connection accepted by include (nil accepts all). It returns the parse
// error, if any, after logging it.
func (c *core) broadcast(sender Conn, payload []byte, room string, include func(Conn) bool) error {
	senderID := ""
	if sender != nil {
		senderID = sender.ID()
	}

	if !json.Valid(payload) {
		err := &ParseError{ConnID: senderID, Err: errors.New("payload is not valid JSON")}
		c.logger.Warn("dropping message", "conn_id", senderID, "error", err)
		return err
	}

	frame, err := c.encode(Envelope{
		Kind:      KindBroadcast,
		Payload:   json.RawMessage(payload),
		SenderID:  senderID,
		Room:      room,
		Timestamp: c.now(),
	})
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}

	delivered := 0
	for _, conn := range c.registry.Snapshot() {
		if c.echo == EchoOthers && conn.ID() == senderID {
			continue
		}
		if conn.State() != StateOpen {
			continue
		}
		if include != nil && !include(conn) {
			continue
		}
		if err := conn.Send(frame); err != nil {
			terr := &TransportError{ConnID: conn.ID(), Op: "send", Err: err}
			c.logger.Warn("dropping client after failed send", "error", terr)
			c.Disconnect(conn)
			continue
		}
		delivered++
	}

	c.logger.Debug("broadcast delivered", "conn_id", senderID, "room", room, "recipients", delivered)
	return nil
}

// disconnectAll drops every registered connection.
func (c *core) disconnectAll() int {
	conns := c.registry.Snapshot()
	for _, conn := range conns {
		c.Disconnect(conn)
	}
	return len(conns)
}

// checkOrigin wraps allow so refused origins are logged.
func checkOrigin(allow func(*http.Request) bool, logger *logging.Logger) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if allow(r) {
			return true
		}
		logger.Warn("blocked websocket connection from disallowed origin", "origin", r.Header.Get("Origin"))
		return false
	}
}
