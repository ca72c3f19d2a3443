// Command brokerd is the broker daemon: it loads configuration, connects to
// PostgreSQL (message/index/clean-shutdown stores) and Redis (admin API rate
// limiting), wires one queue actor (a single queue named "default") on top of a shared
// limiter/credit-flow/handle-cache/delegate/memory-monitor collaborator set,
// and serves the admin HTTP surface — the same shape as the upstream
// reference's two cmd/*/main.go entrypoints collapsed into a single process
// because this module has no separate publisher-facing API to split out.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	// automaxprocs sets GOMAXPROCS from the container's CPU quota on init,
	// the same blank import the retrieval pack's ws relay uses: every queue
	// is its own single-threaded actor (§5), so the Go scheduler needs an
	// accurate core count to multiplex them well.
	_ "go.uber.org/automaxprocs"

	"github.com/qbroker/core/internal/adminapi"
	"github.com/qbroker/core/internal/config"
	"github.com/qbroker/core/internal/creditflow"
	"github.com/qbroker/core/internal/delegate"
	"github.com/qbroker/core/internal/domain"
	"github.com/qbroker/core/internal/handlecache"
	"github.com/qbroker/core/internal/limiter"
	"github.com/qbroker/core/internal/memorymonitor"
	"github.com/qbroker/core/internal/queueactor"
	"github.com/qbroker/core/internal/store"
	"github.com/qbroker/core/internal/vqueue"
)

// nopSink is the default ChannelSink: the connection/channel layer is
// explicitly out of scope (spec §1), so brokerd only logs deliveries instead
// of wiring a real AMQP channel process.
type nopSink struct{ log *zap.Logger }

func (s nopSink) Deliver(ch domain.ChannelID, tag domain.ConsumerTag, body []byte, status *domain.MsgStatus) {
	s.log.Debug("deliver", zap.Uint64("channel", uint64(ch)), zap.String("tag", string(tag)), zap.Int("bytes", len(body)))
}

func (s nopSink) SendCredit(ch domain.ChannelID, tag domain.ConsumerTag, count uint32, credit int64, available int, drain bool) {
	s.log.Debug("send_credit", zap.Uint64("channel", uint64(ch)), zap.String("tag", string(tag)),
		zap.Uint32("count", count), zap.Int64("credit", credit), zap.Int("available", available), zap.Bool("drain", drain))
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting qbroker broker daemon")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping PostgreSQL", zap.Error(err))
	}
	logger.Info("Connected to PostgreSQL")

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", zap.Error(err))
	}
	redisClient := goredis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to ping Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	cleanShutdown := store.NewCleanShutdownStore(dbPool)
	if err := cleanShutdown.Sync(ctx); err != nil {
		logger.Warn("clean-shutdown store sync failed", zap.Error(err))
	}

	handleServer := handlecache.NewServer(logger, cfg.Broker.HandleCacheSoftLimit)
	go handleServer.Run(ctx)
	defer handleServer.Stop()

	mon := memorymonitor.New(logger, memorymonitor.Config{})
	go mon.Run(ctx)

	ledger := creditflow.New(logger, func(peer creditflow.PeerID, n int) {
		logger.Debug("credit-flow bump", zap.String("peer", string(peer)), zap.Int("n", n))
	})
	_ = ledger // exercised by producer-facing connection layer, out of scope here; kept wired and ready for that caller.

	var fanoutTransport delegate.Transport
	natsTransport, err := delegate.NewNATSTransport(logger, cfg.NATS.URL, delegate.NodeID(cfg.NodeID), cfg.Broker.DelegatePeerCount, nil)
	if err != nil {
		logger.Warn("NATS transport unavailable, delegate fan-out runs local-only", zap.Error(err))
	} else {
		fanoutTransport = natsTransport
		defer natsTransport.Close()
	}
	fanout := delegate.New(logger, delegate.NodeID(cfg.NodeID), cfg.Broker.DelegatePeerCount, fanoutTransport)
	_ = fanout // held by the cluster metadata layer (out of scope, §1) for cross-node queue operations.

	sharedLimiter := limiter.New(logger)
	sink := nopSink{log: logger}

	registryQueues := map[string]adminapi.Queue{}

	for _, name := range []string{"default"} {
		msgStore := store.NewMessageStore(dbPool)
		idxStore := store.NewIndexStore(dbPool, name)

		target := cfg.Broker.DefaultPrefetch
		var targetPtr *int
		if target > 0 {
			targetPtr = &target
		}
		vq := vqueue.New(logger, msgStore, idxStore, vqueue.Config{
			SegmentSize:       cfg.Broker.SegmentSize,
			TargetRAMMsgCount: targetPtr,
		})

		actor := queueactor.New(logger, queueactor.Config{
			Name:               name,
			UnsentMessageLimit: cfg.Broker.UnsentMessageLimit,
		}, vq, sharedLimiter, sink)
		go actor.Run(ctx)

		mon.Register(name, actor)
		registryQueues[name] = actor
	}

	registry := adminapi.NewMapRegistry(registryQueues)
	router := adminapi.NewRouter(&adminapi.RouterDeps{
		Registry:        registry,
		Logger:          logger,
		Redis:           redisClient,
		RateLimitPerMin: cfg.AdminAPI.RateLimitPerMinute,
	})

	srv := &http.Server{
		Addr:         cfg.AdminAPI.ListenAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Admin API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin API server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down broker daemon...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin API server forced to shutdown", zap.Error(err))
	}

	// Cancelling ctx stops every queue actor's Run loop and the memory
	// monitor/handle-cache background goroutines; no explicit per-queue
	// Delete — that op means "erase this queue", not "stop the process".
	cancel()
	fmt.Fprintln(os.Stdout, "broker daemon stopped")
}
