// Package main provides the session server binary: the line-protocol
// listener, the broadcast dispatcher, the optional Redis relay, and the
// admin endpoints for health and metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/mudwire/internal/broadcast"
	"github.com/cory-johannsen/mudwire/internal/config"
	"github.com/cory-johannsen/mudwire/internal/gameserver"
	"github.com/cory-johannsen/mudwire/internal/observability"
	"github.com/cory-johannsen/mudwire/internal/packet"
	"github.com/cory-johannsen/mudwire/internal/packet/packets"
	"github.com/cory-johannsen/mudwire/internal/relay"
	"github.com/cory-johannsen/mudwire/internal/server"
	"github.com/cory-johannsen/mudwire/internal/session"
	"github.com/cory-johannsen/mudwire/internal/storage/postgres"
	"github.com/cory-johannsen/mudwire/internal/transport"
)

const (
	healthInterval  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, level, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting session server",
		zap.String("listen_addr", cfg.Listener.Addr()),
		zap.Bool("relay", cfg.Redis.Enabled),
	)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		logger.Fatal("creating metrics", zap.Error(err))
	}

	sessions := session.NewRegistry()
	if err := observability.RegisterSessionGauge(reg, sessions.Count); err != nil {
		logger.Fatal("registering session gauge", zap.Error(err))
	}

	// Database
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected", zap.Duration("elapsed", time.Since(dbStart)))
	identities := postgres.NewIdentityRepository(pool.DB())
	if err := observability.RegisterPoolGauges(reg, func() (int32, int32, int32) {
		s := pool.Stats()
		return s.Total, s.Idle, s.Acquired
	}); err != nil {
		logger.Fatal("registering pool gauges", zap.Error(err))
	}

	// Broadcast
	dispatcher := broadcast.New(sessions,
		broadcast.WithLogger(logger),
		broadcast.WithMetrics(metrics),
		broadcast.WithWorkers(cfg.Broadcast.Workers),
		broadcast.WithRangeRadius(cfg.Broadcast.RangeRadius),
	)
	var broadcaster broadcast.Broadcaster = dispatcher

	var redisRelay *relay.Redis
	if cfg.Redis.Enabled {
		client, err := relay.Dial(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		redisRelay = relay.New(client, cfg.Redis.Channel, dispatcher, relay.WithLogger(logger))
		broadcaster = redisRelay
		logger.Info("broadcast relay enabled",
			zap.String("channel", cfg.Redis.Channel),
			zap.String("node", redisRelay.Node()),
		)
	}

	// Line protocol
	codec := packet.NewCodec(packets.ClientRegistry(),
		packet.WithLogger(logger),
		packet.WithRecorder(metrics),
	)
	router := transport.NewRouter(logger)
	chat := gameserver.NewChatHandler(sessions, broadcaster, logger)
	world := gameserver.NewWorldHandler(identities, sessions, broadcaster, logger)
	social := gameserver.NewSocialHandler(identities, broadcaster, logger)
	if err := gameserver.Register(router, chat, world, social); err != nil {
		logger.Fatal("registering handlers", zap.Error(err))
	}
	acceptor, err := transport.NewAcceptor(cfg.Listener, sessions, codec, router, logger)
	if err != nil {
		logger.Fatal("creating acceptor", zap.Error(err))
	}

	// Admin endpoints
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	metricsServer := &http.Server{
		Addr:              cfg.Admin.MetricsAddr(),
		Handler:           observability.AdminHandler(reg, level),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("postgres", &server.RunService{
		RunFn: func(ctx context.Context) error {
			ticker := time.NewTicker(healthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					pool.Close()
					return nil
				case <-ticker.C:
					status := healthpb.HealthCheckResponse_SERVING
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
						status = healthpb.HealthCheckResponse_NOT_SERVING
					}
					healthServer.SetServingStatus("", status)
				}
			}
		},
	})

	if redisRelay != nil {
		lifecycle.Add("relay", &server.RunService{RunFn: redisRelay.Run})
	}

	lifecycle.Add("grpc", &server.FuncService{
		StartFn: func() error {
			lis, err := net.Listen("tcp", cfg.Admin.GRPCAddr())
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg.Admin.GRPCAddr(), err)
			}
			logger.Info("gRPC health server listening",
				zap.String("addr", lis.Addr().String()),
			)
			return grpcServer.Serve(lis)
		},
		StopFn: func() {
			healthServer.Shutdown()
			grpcServer.GracefulStop()
		},
	})

	lifecycle.Add("metrics", &server.FuncService{
		StartFn: func() error {
			logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		},
	})

	lifecycle.Add("listener", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	logger.Info("session server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Strings("headers", router.Headers()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
