// Package relay accepts client connections and runs the per-connection
// command loop against the shared session registry and version store.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/zsprackett/filerelay/internal/events"
	"github.com/zsprackett/filerelay/internal/protocol"
	"github.com/zsprackett/filerelay/internal/session"
	"github.com/zsprackett/filerelay/internal/versions"
)

const (
	DefaultPort                = 2011
	DefaultReadBufferSize      = 4096
	DefaultHandshakeBufferSize = 1024
	DefaultWriteTimeout        = 10 * time.Second
)

type Config struct {
	Host                string
	Port                int
	ReadBufferSize      int
	HandshakeBufferSize int
	// WriteTimeout bounds a single socket write. A client that cannot take
	// a frame within it is dropped.
	WriteTimeout time.Duration
}

func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, fmt.Sprint(port))
}

type Server struct {
	registry    *session.Registry
	store       *versions.Store
	broadcaster events.Broadcaster
	cfg         Config
	logger      *slog.Logger

	mu    sync.Mutex
	conns map[FrameConn]struct{}
	wg    sync.WaitGroup
}

// New returns a relay server. broadcaster may be nil.
func New(registry *session.Registry, store *versions.Store, broadcaster events.Broadcaster, cfg Config, logger *slog.Logger) *Server {
	return &Server{
		registry:    registry,
		store:       store,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger,
		conns:       make(map[FrameConn]struct{}),
	}
}

// ListenAndServe binds the configured TCP address and serves until ctx is
// cancelled. A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// live connection and waits for their cleanup to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("relay: listening", "addr", ln.Addr().String())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	retry := acceptBackoff()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.shutdown()
				return nil
			}
			wait := retry.NextBackOff()
			s.logger.Warn("relay: accept failed", "err", err, "retry_in", wait)
			time.Sleep(wait)
			continue
		}
		retry.Reset()
		c := newTCPConn(conn, s.cfg.ReadBufferSize, s.cfg.HandshakeBufferSize, s.cfg.WriteTimeout)
		go s.ServeConn(c)
	}
}

// acceptBackoff paces retries after transient accept errors such as
// descriptor exhaustion. It never gives up.
func acceptBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ServeConn runs the handshake and command loop for one connection and
// returns when the connection ends. It is used directly by transports other
// than TCP.
func (s *Server) ServeConn(c FrameConn) {
	if !s.track(c) {
		c.Close()
		return
	}
	defer s.untrack(c)

	frame, err := c.ReadFrame()
	if err != nil {
		s.logger.Debug("relay: handshake failed", "addr", c.RemoteAddr(), "err", err)
		c.Close()
		return
	}
	name, err := protocol.ParseName(frame)
	if errors.Is(err, protocol.ErrEmptyFrame) {
		name = session.GenerateName()
	}

	sess := s.registry.Register(name, c)
	s.logger.Info("relay: connected", "name", name, "addr", sess.Addr)
	s.registry.Broadcast(protocol.Joined(name), sess)
	s.publish(events.Event{Type: events.TypeJoined, Name: name})

	d := newDispatcher(s, c, sess)
	d.run()
}

func (s *Server) track(c FrameConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c FrameConn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, c)
	}
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) shutdown() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for c := range conns {
		c.Close()
	}
	s.wg.Wait()
	s.logger.Info("relay: stopped")
}

// publish stamps e and hands it to the broadcaster. A Server built with a nil
// Broadcaster publishes nothing.
func (s *Server) publish(e events.Event) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Broadcast(e.Stamp())
}
