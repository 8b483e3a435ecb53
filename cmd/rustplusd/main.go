package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"

	"github.com/lydonator/rust-plus-web-sub002/config"
	"github.com/lydonator/rust-plus-web-sub002/internal/api"
	"github.com/lydonator/rust-plus-web-sub002/internal/db"
	"github.com/lydonator/rust-plus-web-sub002/internal/events"
	"github.com/lydonator/rust-plus-web-sub002/internal/notification"
	"github.com/lydonator/rust-plus-web-sub002/internal/observability"
	"github.com/lydonator/rust-plus-web-sub002/internal/push"
	"github.com/lydonator/rust-plus-web-sub002/internal/reconcile"
	"github.com/lydonator/rust-plus-web-sub002/internal/rustplus"
	"github.com/lydonator/rust-plus-web-sub002/internal/session"
	"github.com/lydonator/rust-plus-web-sub002/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	observability.InitLogger("rustplusd", cfg.Log.Level, cfg.Log.Format)
	observability.RegisterMetrics()
	log.Info().Str("path", configPath).Msg("configuration loaded")

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	registry := session.NewRegistry(
		session.RustplusDialer(rustplus.Options{
			HandshakeTimeout: cfg.Reconcile.ConnectTimeout,
			WriteTimeout:     cfg.Reconcile.RequestTimeout,
		}),
		appStore,
		bus,
		session.Options{
			MaxConnectFailures: cfg.Reconcile.MaxConnectFailures,
			ConnectTimeout:     cfg.Reconcile.ConnectTimeout,
			RequestTimeout:     cfg.Reconcile.RequestTimeout,
		},
	)
	loop := reconcile.NewLoop(appStore, registry, cfg.Reconcile.Interval, cfg.Reconcile.MaxConcurrency)

	var webpushOptions *webpush.Options
	var fanout notification.Dispatcher
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions)
		pool.Start(ctx)
		fanout = pool
	} else {
		log.Warn().Msg("VAPID keys are not configured; browser notifications are disabled")
	}

	router := notification.NewRouter(appStore, bus, fanout, cfg.Router.QueueSize, cfg.Router.Workers)
	// The router outlives ctx so queued deliveries can drain on shutdown.
	routerCtx, routerCancel := context.WithCancel(context.Background())
	defer routerCancel()
	router.Start(routerCtx)

	var wg sync.WaitGroup
	var credentials api.PushCredentials
	if cfg.Push.Backbone.Enabled {
		backbone := push.NewHTTPBackbone(cfg.Push.Backbone)
		manager := push.NewManager(appStore, backbone)
		credentials = manager
		if _, err := manager.EnsureDeviceIdentity(ctx); err != nil {
			// The listener waits for an identity; the next forwarding-token
			// request retries the registration.
			log.Error().Err(err).Msg("failed to ensure device identity")
		}
		listener := push.NewListener(backbone, manager, router.Submit,
			time.Duration(cfg.Push.Backbone.ListenInitialBackoff)*time.Second,
			time.Duration(cfg.Push.Backbone.ListenMaxBackoff)*time.Second)
		wg.Add(1)
		go func() {
			defer wg.Done()
			listener.Run(ctx)
		}()
	} else {
		log.Warn().Msg("push backbone disabled; pairing notifications will not be received")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	handler := api.NewHandler(appStore, registry, credentials, bus, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(cfg.Server, handler),
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}

	// Stop producers first, then drain the router, then drop sessions.
	cancel()
	wg.Wait()
	router.Close()
	routerCancel()
	registry.Close(shutdownCtx)

	log.Info().Msg("server gracefully stopped")
}
