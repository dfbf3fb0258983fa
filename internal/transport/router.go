package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudwire/internal/packet"
	"github.com/cory-johannsen/mudwire/internal/session"
)

// HandlerFunc processes one decoded inbound message.
type HandlerFunc func(ctx context.Context, s *session.Session, msg packet.Message)

// Router maps header keywords to handlers.
// All methods are safe for concurrent use.
type Router struct {
	mu           sync.RWMutex
	handlers     map[string]HandlerFunc
	onDisconnect []func(ctx context.Context, s *session.Session)
	logger       *zap.Logger
}

// NewRouter creates an empty Router.
//
// Precondition: logger must be non-nil.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Handle registers fn for messages with the given header.
//
// Postcondition: Returns an error if header already has a handler.
func (r *Router) Handle(header string, fn HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[header]; dup {
		return fmt.Errorf("handler for header %q already registered", header)
	}
	r.handlers[header] = fn
	return nil
}

// OnDisconnect registers fn to run after a session leaves the registry.
func (r *Router) OnDisconnect(fn func(ctx context.Context, s *session.Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = append(r.onDisconnect, fn)
}

// Headers returns the routed headers in sorted order.
func (r *Router) Headers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for h := range r.handlers {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler for msg. A panicking handler is logged and the
// connection continues.
func (r *Router) Dispatch(ctx context.Context, s *session.Session, msg packet.Message) {
	header := msg.Header()
	r.mu.RLock()
	fn, ok := r.handlers[header]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("no handler for message", zap.String("header", header), zap.Int64("session_id", s.ID()))
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked",
				zap.String("header", header),
				zap.Int64("session_id", s.ID()),
				zap.Any("panic", p),
			)
		}
	}()
	fn(ctx, s, msg)
}

func (r *Router) disconnected(ctx context.Context, s *session.Session) {
	r.mu.RLock()
	hooks := append([]func(context.Context, *session.Session){}, r.onDisconnect...)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, s)
	}
}
