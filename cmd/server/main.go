package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"keyrelay-go/internal/config"
	"keyrelay-go/internal/constants"
	"keyrelay-go/internal/events"
	"keyrelay-go/internal/logging"
	"keyrelay-go/internal/monitoring/tracing"
	"keyrelay-go/internal/pool"
	"keyrelay-go/internal/server"
	"keyrelay-go/internal/session"
	"keyrelay-go/internal/storage"
	"keyrelay-go/internal/token"
	"keyrelay-go/internal/upstream"
	"keyrelay-go/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (yaml/json)")
	flag.Parse()

	cfg := config.LoadWithFile(*configPath)
	if cfg == nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.ValidateAndExpandPaths(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Setup(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}
	log.WithFields(log.Fields{
		"version": version.Version,
		"port":    cfg.Server.Port,
		"backend": cfg.Storage.Backend,
	}).Info("keyrelay starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceShutdown, err := tracing.Init(ctx)
	if err != nil {
		log.WithError(err).Warn("tracing init failed, continuing without traces")
	}

	hub := events.NewHub()
	cfgMgr := config.GetConfigManager()
	cfgMgr.SetEventPublisher(hub)

	backend, err := storage.InitializeWithFallback(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("storage initialization failed")
	}
	defer backend.Close()

	store := token.NewStore(backend)
	store.SetEventPublisher(hub)

	cache := session.NewCache(cfg.Timing.TokenCacheTTL)
	sweeperStop := make(chan struct{})
	cache.StartSweeper(constants.TokenCacheSweepInterval, sweeperStop)
	defer close(sweeperStop)

	guard := session.NewGuard(store, cache, cfg.Timing.SessionLock)

	credPool, err := pool.New(cfg.Upstream.Credentials, cfg.Timing.LeaseDuration, cfg.Timing.FaultCooldown)
	if err != nil {
		log.WithError(err).Fatal("credential pool initialization failed")
	}
	credPool.SetEventPublisher(hub)

	// Token edits from other replicas or the management API invalidate cached
	// plaintext lookups.
	hub.Subscribe(events.TopicTokenChanged, func(_ context.Context, _ events.Event) {
		cache.Flush()
	})

	engine := server.BuildEngine(cfg, server.Dependencies{
		Store:         store,
		Cache:         cache,
		Guard:         guard,
		Pool:          credPool,
		Upstream:      upstream.New(cfg.Upstream),
		Storage:       backend,
		ConfigManager: cfgMgr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown failed")
	}
	if traceShutdown != nil {
		if err := traceShutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("trace exporter shutdown failed")
		}
	}
	cfgMgr.Stop()
	time.Sleep(constants.ServerGracefulWait)
	log.Info("keyrelay stopped")
}
