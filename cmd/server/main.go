package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tillsync/internal/api"
	"tillsync/internal/config"
	"tillsync/internal/metrics"
	"tillsync/internal/netmon"
	"tillsync/internal/remote"
	"tillsync/internal/repository"
	"tillsync/internal/service"
	"tillsync/pkg/logger"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var issueToken = flag.String("issue-token", "", "print an admin token for the named operator and exit")

func main() {
	flag.Parse()

	// 1. Load Configuration
	cfg := config.Load()

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken); err != nil {
			logger.Error("token issue failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		logger.Error("application startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func printToken(cfg *config.Config, name string) error {
	tokens := service.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	host, _ := os.Hostname()
	token, err := tokens.Issue(service.OperatorInfo{Name: name, Role: "admin", Terminal: host})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(cfg *config.Config) error {
	// 2. Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize Infrastructure
	db, err := repository.OpenDB(cfg.Store)
	if err != nil {
		return err
	}
	defer repository.CloseDB(db)

	rdb, err := initRedis(cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	etcdCli, err := initEtcd(cfg.Etcd)
	if err != nil {
		return err
	}
	if etcdCli != nil {
		defer etcdCli.Close()
	}

	// 4. Initialize Repositories
	queueRepo := repository.NewQueueRepository(db)
	locker := initLocker(cfg.Sync, db, etcdCli)
	if l, ok := locker.(*repository.EtcdLocker); ok {
		defer l.Close()
	}
	var cache repository.ResponseCache = repository.NewStoreResponseCache(db, cfg.Cache.MaxAge)
	if rdb != nil {
		cache = repository.NewRedisResponseCache(rdb, cfg.Cache.MaxAge)
	}

	// 5. Initialize Services
	monitor := netmon.New(true)
	upstream := remote.NewClient(cfg.Remote)
	syncObserver := metrics.NewPrometheusSyncObserver()

	queueSvc := service.NewQueueService(queueRepo, syncObserver)
	engine := service.NewSyncEngine(queueRepo, upstream, monitor, locker, syncObserver, cfg.Sync.MaxRetries)
	hub := service.NewHub(metrics.NewPrometheusObserver(), cfg.Stream.HeartbeatInterval, cfg.Stream.HubBufferSize, cfg.Stream.ReplayBufferSize)
	coordinator := service.NewCoordinator(engine, monitor, hub, queueSvc, cfg.Sync.WakeInterval)
	tokens := service.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// 6. Start background routines
	go func() {
		logger.Info("starting hub")
		hub.Run(ctx)
	}()
	go func() {
		logger.Info("starting sync coordinator", zap.Duration("wake_interval", cfg.Sync.WakeInterval))
		coordinator.Run(ctx)
	}()

	// 7. Setup HTTP Server
	r := api.RegisterRoutes(
		api.NewQueueHandler(queueSvc, func(ctx context.Context) error { return repository.Ping(ctx, db) }),
		api.NewStreamHandler(hub),
		api.NewControlHandler(coordinator, monitor),
		api.NewInterceptHandler(upstream, cache, queueSvc),
		api.RouterConfig{
			Tokens:            tokens,
			TerminalKey:       cfg.Auth.TerminalKey,
			DevMode:           cfg.Auth.DevMode,
			Redis:             rdb,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		},
	)

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}

	// 8. Start Server
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment),
			zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", zap.Error(err))
		}
	}()

	// 9. Graceful Shutdown Signal Wait
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// stopping the hub closes open streams so Shutdown does not wait on them
	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited properly")
	return nil
}

// -- Infrastructure Initializers --

// initRedis returns nil when no address is configured.
func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initEtcd(cfg config.EtcdConfig) (*clientv3.Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, nil
	}
	return repository.NewEtcdClient(cfg)
}

// initLocker prefers etcd when several processes share a remote store.
func initLocker(cfg config.SyncConfig, db *gorm.DB, etcdCli *clientv3.Client) repository.Locker {
	if etcdCli != nil {
		ttl := int(cfg.LeaseTTL.Seconds())
		if ttl < 5 {
			ttl = 5
		}
		return repository.NewEtcdLocker(etcdCli, cfg.LeaseName, ttl)
	}
	return repository.NewStoreLocker(db, cfg.LeaseName, cfg.LeaseTTL)
}
