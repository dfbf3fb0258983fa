package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudwire/internal/config"
	"github.com/cory-johannsen/mudwire/internal/packet"
	"github.com/cory-johannsen/mudwire/internal/session"
)

// Acceptor listens for line-protocol connections, registers a session for
// each, and routes decoded inbound messages.
type Acceptor struct {
	cfg      config.ListenerConfig
	registry *session.Registry
	codec    *packet.Codec
	router   *Router
	logger   *zap.Logger
	ids      session.Sequence

	listener net.Listener
	conns    map[*Conn]struct{}
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewAcceptor creates an acceptor serving cfg.Addr().
//
// Precondition: registry, codec, router, and logger must be non-nil.
// Postcondition: Returns an Acceptor, or an error if a routed header is
// unknown to the codec's registry.
func NewAcceptor(cfg config.ListenerConfig, registry *session.Registry, codec *packet.Codec, router *Router, logger *zap.Logger) (*Acceptor, error) {
	for _, h := range router.Headers() {
		if _, ok := codec.Registry().Lookup(h); !ok {
			return nil, fmt.Errorf("routed header %q has no registered schema", h)
		}
	}
	return &Acceptor{
		cfg:      cfg,
		registry: registry,
		codec:    codec,
		router:   router,
		logger:   logger,
		conns:    make(map[*Conn]struct{}),
		quit:     make(chan struct{}),
	}, nil
}

// ListenAndServe starts the TCP listener and accepts connections until Stop is called.
// This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("line acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			a.logger.Error("accepting connection", zap.Error(err))
			continue
		}

		conn := NewConn(raw, a.cfg.ReadTimeout, a.cfg.WriteTimeout)
		if !a.track(conn) {
			_ = conn.Close()
			return nil
		}
		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

func (a *Acceptor) track(c *Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	a.conns[c] = struct{}{}
	return true
}

func (a *Acceptor) untrack(c *Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conns, c)
}

// handleConn serves one connection from registration to disconnect.
func (a *Acceptor) handleConn(conn *Conn) {
	defer a.wg.Done()
	defer a.untrack(conn)
	defer conn.Close()
	start := time.Now()
	addr := conn.RemoteAddr().String()

	s := session.New(a.ids.Next(), addr, a.cfg.OutboxSize)
	if err := a.registry.Register(s); err != nil {
		a.logger.Error("registering session", zap.String("remote_addr", addr), zap.Error(err))
		return
	}
	log := a.logger.With(zap.Int64("session_id", s.ID()), zap.String("remote_addr", addr))
	log.Info("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		a.writeLoop(conn, s, log)
	}()

	err := a.readLoop(ctx, conn, s)

	if _, uerr := a.registry.Unregister(s.ID()); uerr != nil {
		log.Warn("unregistering session", zap.Error(uerr))
	}
	s.Close()
	<-writerDone
	a.router.disconnected(context.WithoutCancel(ctx), s)

	if err != nil {
		log.Debug("session ended", zap.Error(err), zap.Duration("duration", time.Since(start)))
	} else {
		log.Info("session ended cleanly", zap.Duration("duration", time.Since(start)))
	}
}

func (a *Acceptor) readLoop(ctx context.Context, conn *Conn, s *session.Session) error {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg, ok := a.codec.Receive(line)
		if !ok {
			continue
		}
		a.router.Dispatch(ctx, s, msg)
	}
}

// writeLoop drains the session outbox. A write failure closes the
// connection, which ends the read loop.
func (a *Acceptor) writeLoop(conn *Conn, s *session.Session, log *zap.Logger) {
	for line := range s.Outbox().Lines() {
		if err := conn.WriteLine(line); err != nil {
			log.Debug("write failed, closing connection", zap.Error(err))
			_ = conn.Close()
			s.Close()
			for range s.Outbox().Lines() {
			}
			return
		}
	}
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to finish.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.quit)
	if a.listener != nil {
		a.listener.Close()
	}
	for c := range a.conns {
		_ = c.Close()
	}
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("line acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
