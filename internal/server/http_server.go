package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Tyrowin/devrelay/internal/config"
	"github.com/Tyrowin/devrelay/internal/logging"
	"github.com/Tyrowin/devrelay/internal/relay"
	"github.com/Tyrowin/devrelay/internal/reporter"
)

// CreateServer creates an HTTP server for addr and handler with the
// service's timeout settings.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Server owns the listener, the router and the relay behind it.
type Server struct {
	cfg      config.Config
	logger   *logging.Logger
	relay    relay.Relay
	reporter *reporter.Reporter
	origins  *config.OriginList
	http     *http.Server

	mu       sync.Mutex
	listener net.Listener
	errc     chan error
}

// New builds the relay selected by cfg.Mode and the router around it.
func New(cfg config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	opts, err := relay.OptionsFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	rl, err := relay.New(relay.Mode(cfg.Mode), opts)
	if err != nil {
		return nil, err
	}

	rep, err := reporter.New()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		relay:    rl,
		reporter: rep,
		origins:  cfg.Origins(),
		errc:     make(chan error, 1),
	}
	s.http = CreateServer(cfg.Addr(), s.buildRouter())
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Relay returns the relay serving websocket clients.
func (s *Server) Relay() relay.Relay { return s.relay }

// Start binds the listener and serves in the background. A bind failure is
// returned as *BindError.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return &BindError{Addr: s.http.Addr, Err: err}
	}
	s.listener = ln

	s.logger.Info("server listening",
		"addr", ln.Addr().String(),
		"mode", string(s.relay.Mode()),
		"websocket_path", s.relay.Path())

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- fmt.Errorf("serve: %w", err)
		}
		close(s.errc)
	}()
	return nil
}

// Addr is the bound listener address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.http.Addr
}

// Err delivers a serve failure; it is closed when serving stops.
func (s *Server) Err() <-chan error { return s.errc }

// Shutdown closes every websocket connection, then stops the HTTP server.
// Both are bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	relayErr := s.relay.Shutdown(ctx)
	if relayErr != nil {
		s.logger.Warn("relay shutdown incomplete", "error", relayErr)
	}

	httpErr := s.http.Shutdown(ctx)
	if httpErr != nil {
		s.logger.Error("http server shutdown error", "error", httpErr)
	}

	if err := errors.Join(relayErr, httpErr); err != nil {
		return err
	}

	s.logger.Info("server shutdown completed")
	return nil
}
