package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Niiaks/Chainpaye/internal/cache"
	"github.com/Niiaks/Chainpaye/internal/checkout"
	"github.com/Niiaks/Chainpaye/internal/config"
	"github.com/Niiaks/Chainpaye/internal/database"
	"github.com/Niiaks/Chainpaye/internal/events"
	"github.com/Niiaks/Chainpaye/internal/logger"
	"github.com/Niiaks/Chainpaye/internal/proxy"
	"github.com/Niiaks/Chainpaye/internal/psp"
	"github.com/Niiaks/Chainpaye/internal/receipt"
	"github.com/Niiaks/Chainpaye/internal/redis"
	"github.com/Niiaks/Chainpaye/internal/router"
	"github.com/Niiaks/Chainpaye/internal/server"
	"github.com/Niiaks/Chainpaye/internal/session"
	"github.com/Niiaks/Chainpaye/internal/webhook"
	"github.com/Niiaks/Chainpaye/pkg/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()

	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	rdb, err := redis.New(&log, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis client")
	}

	srv, err := server.NewServer(cfg, &log, loggerService, db, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	// Polling loops and sweepers live as long as this context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpClient := psp.NewHTTPClient(cfg.Backend.Timeout)
	backend := psp.NewBackendClient(cfg.Backend.BaseURL, httpClient, &log)

	links := cache.New[string, *types.PaymentLink]()
	go links.Run(ctx, cfg.Checkout.CacheSweepInterval)

	reporter := events.NewMulti(&log,
		events.NewLogReporter(&log),
		events.NewNewRelicReporter(loggerService.GetApplication()),
		events.PrometheusReporter{},
	)

	checkoutService := checkout.NewService(ctx, &checkout.Dependencies{
		Backend:     backend,
		Links:       links,
		Sessions:    session.NewTracker(rdb, cfg.Checkout.SessionTTL, &log),
		Idempotency: rdb,
		Receipts:    receipt.NewRepository(db.Pool),
		Reporter:    reporter,
		Logger:      &log,
		Config:      cfg.Checkout,
	})
	go checkoutService.Run(ctx, cfg.Checkout.CacheSweepInterval, cfg.Checkout.SessionTTL)

	handlers := &router.Handlers{
		Checkout: checkout.NewCheckoutHandler(checkoutService),
		Proxy:    proxy.NewProxyHandler(cfg.Backend, httpClient),
		Webhook:  webhook.NewWebhookHandler(cfg.Backend.WebhookSecret, checkoutService, db.Pool),
	}

	r := router.NewRouter(srv, handlers)

	srv.SetupHTTPServer(r)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop polling before the database goes away.
	cancel()
	checkoutService.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}
