package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Niiaks/Chainpaye/internal/config"
	"github.com/Niiaks/Chainpaye/internal/kafka"
	"github.com/Niiaks/Chainpaye/internal/logger"
	"github.com/Niiaks/Chainpaye/internal/notifier"
	"github.com/Niiaks/Chainpaye/internal/psp"
	"github.com/Niiaks/Chainpaye/internal/redis"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	log.Info().Msg("Starting Notifier Worker...")

	rdb, err := redis.New(&log, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis")
	}
	defer rdb.Close()

	kafkaCfg := kafka.DefaultConfig(cfg.Kafka.Brokers)

	producer, err := kafka.NewProducer(kafkaCfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize kafka producer")
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(kafkaCfg, kafka.GroupNotifier, kafka.TopicCheckoutCompleted, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize kafka consumer")
	}
	defer consumer.Close()
	consumer.OnDeadLetter(notifier.DeadLetter(producer, &log))

	backend := psp.NewBackendClient(cfg.Backend.BaseURL, psp.NewHTTPClient(cfg.Checkout.NotifyTimeout), &log)
	n := notifier.New(backend, rdb, notifier.RedisLock(rdb), notifier.Config{
		Timeout:        cfg.Checkout.NotifyTimeout,
		LockTTL:        cfg.Redis.LockTTL,
		IdempotencyTTL: cfg.Checkout.IdempotencyTTL,
	}, &log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Run(ctx, n.Handle); err != nil {
			log.Error().Err(err).Msg("Notifier stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Notifier Worker...")
	cancel()

	log.Info().Msg("Notifier Worker shutdown complete")
}
