// Package relay shares broadcasts between server nodes over Redis pub/sub.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mudwire/internal/broadcast"
	"github.com/cory-johannsen/mudwire/internal/config"
)

const defaultPublishTimeout = 2 * time.Second

// Dial connects to the Redis server described by cfg.
//
// Postcondition: Returns a client that answered PING, or a non-nil error.
func Dial(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Redis delivers every broadcast locally and publishes it for the other
// nodes of the world. Run applies the frames published by those nodes.
// All methods are safe for concurrent use.
type Redis struct {
	client  redis.UniversalClient
	channel string
	local   broadcast.Broadcaster
	node    string
	logger  *zap.Logger
	timeout time.Duration

	readyOnce sync.Once
	ready     chan struct{}
}

// Option configures a Redis relay.
type Option func(*Redis)

// WithLogger sets the relay logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Redis) { r.logger = l }
}

// WithNode overrides the generated node id.
func WithNode(id string) Option {
	return func(r *Redis) { r.node = id }
}

// WithPublishTimeout bounds each PUBLISH call.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Redis) { r.timeout = d }
}

// New creates a relay publishing on channel and delivering through local.
//
// Precondition: client and local must be non-nil; channel must be non-empty.
func New(client redis.UniversalClient, channel string, local broadcast.Broadcaster, opts ...Option) *Redis {
	r := &Redis{
		client:  client,
		channel: channel,
		local:   local,
		node:    uuid.NewString(),
		logger:  zap.NewNop(),
		timeout: defaultPublishTimeout,
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("node", r.node))
	return r
}

// Node returns the id stamped on frames published by this relay.
func (r *Redis) Node() string {
	return r.node
}

// Ready is closed once Run has subscribed to the channel.
func (r *Redis) Ready() <-chan struct{} {
	return r.ready
}

// Broadcast delivers env on this node, then publishes it. A publish failure
// is logged; local delivery is unaffected.
func (r *Redis) Broadcast(env broadcast.Envelope) {
	r.local.Broadcast(env)
	if env.Validate() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.Publish(ctx, env); err != nil {
		r.logger.Warn("publishing broadcast", zap.String("policy", env.Policy.String()), zap.Error(err))
	}
}

// Publish sends env to the other nodes without delivering it locally.
func (r *Redis) Publish(ctx context.Context, env broadcast.Envelope) error {
	data, err := EncodeFrame(NewFrame(uuid.NewString(), r.node, env))
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the channel and applies frames from other nodes until
// ctx is cancelled.
//
// Postcondition: Returns nil on cancellation, or the subscription error.
func (r *Redis) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("relay subscribed", zap.String("channel", r.channel))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			r.apply([]byte(m.Payload))
		}
	}
}

func (r *Redis) apply(data []byte) {
	f, err := DecodeFrame(data)
	if err != nil {
		r.logger.Warn("dropping relay frame", zap.Error(err))
		return
	}
	if f.Node == r.node {
		return
	}
	env, err := f.Envelope()
	if err != nil {
		r.logger.Warn("dropping relay frame",
			zap.String("frame_id", f.ID),
			zap.String("from", f.Node),
			zap.Error(err),
		)
		return
	}
	r.local.Broadcast(env)
}
