package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/Niiaks/Chainpaye/internal/config"
	"github.com/Niiaks/Chainpaye/internal/database"
	"github.com/Niiaks/Chainpaye/internal/kafka"
	"github.com/Niiaks/Chainpaye/internal/logger"
	"github.com/Niiaks/Chainpaye/internal/outbox"
)

const startupPingTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.NewLoggerWithService(cfg.Observability, loggerService).
		With().Str("component", "outbox-relay").Logger()

	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	producer, err := kafka.NewProducer(kafka.DefaultConfig(cfg.Kafka.Brokers), &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize kafka producer")
	}
	defer producer.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), startupPingTimeout)
	if err := producer.Ping(pingCtx); err != nil {
		cancelPing()
		log.Fatal().Err(err).Strs("brokers", cfg.Kafka.Brokers).Msg("kafka brokers unreachable")
	}
	cancelPing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := outbox.NewRelay(db.Pool, producer, &log, cfg.Kafka.OutboxInterval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := relay.Start(ctx); err != nil {
			log.Error().Err(err).Msg("outbox relay stopped with error")
		}
	}()

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Dur("interval", cfg.Kafka.OutboxInterval).
		Msg("checkout outbox relay running")

	<-ctx.Done()
	log.Info().Msg("shutting down outbox relay")
	<-done
	log.Info().Msg("outbox relay stopped")
}
