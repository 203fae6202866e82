// Package notifier delivers completed checkouts to the merchant success URL.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Niiaks/Chainpaye/internal/kafka"
	"github.com/Niiaks/Chainpaye/internal/metrics"
	"github.com/Niiaks/Chainpaye/internal/redis"
	"github.com/Niiaks/Chainpaye/pkg/types"
)

// Sender is satisfied by *psp.BackendClient.
type Sender interface {
	NotifySuccess(ctx context.Context, successURL string, event *types.CheckoutCompletedEvent, timeout time.Duration) error
}

// Guard is satisfied by *redis.Client.
type Guard interface {
	CheckAndSetIdempotency(ctx context.Context, key string, ttl time.Duration) ([]byte, error)
	MarkIdempotencyComplete(ctx context.Context, key string, response []byte, ttl time.Duration) error
	MarkIdempotencyFailed(ctx context.Context, key string) error
}

// LockFunc takes a lease on key and returns its release.
type LockFunc func(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)

// RedisLock adapts the redis client lease to a LockFunc.
func RedisLock(c *redis.Client) LockFunc {
	return func(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
		lock, err := c.AcquireLock(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		return lock.Release, nil
	}
}

type Config struct {
	Timeout        time.Duration
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
}

var deliveredMarker = []byte(`{"delivered":true}`)

type Notifier struct {
	sender Sender
	guard  Guard
	lock   LockFunc
	cfg    Config
	logger *zerolog.Logger
}

func New(sender Sender, guard Guard, lock LockFunc, cfg Config, logger *zerolog.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		guard:  guard,
		lock:   lock,
		cfg:    cfg,
		logger: logger,
	}
}

// Handle is the kafka handler for checkout.completed. A returned error makes
// the consumer retry the message.
func (n *Notifier) Handle(ctx context.Context, msg *kafka.Message) error {
	var event types.CheckoutCompletedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		n.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to unmarshal checkout event")
		metrics.MerchantNotifications.WithLabelValues("malformed").Inc()
		return nil
	}

	log := n.logger.With().
		Str("payment_id", event.PaymentID).
		Str("reference", event.Reference).
		Str("correlation_id", msg.Headers["correlation_id"]).
		Logger()

	if event.SuccessURL == "" {
		log.Debug().Msg("no success url, nothing to notify")
		metrics.MerchantNotifications.WithLabelValues("skipped").Inc()
		return nil
	}

	release, err := n.lock(ctx, "notify:"+event.PaymentID, n.cfg.LockTTL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to acquire notification lock")
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("failed to release notification lock")
		}
	}()

	key := "notify:" + event.PaymentID
	stored, err := n.guard.CheckAndSetIdempotency(ctx, key, n.cfg.IdempotencyTTL)
	switch {
	case stored != nil:
		log.Info().Msg("merchant already notified, skipping")
		metrics.MerchantNotifications.WithLabelValues("duplicate").Inc()
		return nil
	case errors.Is(err, redis.ErrKeyExists):
		return err
	case err != nil:
		return fmt.Errorf("idempotency check failed: %w", err)
	}

	if err := n.sender.NotifySuccess(ctx, event.SuccessURL, &event, n.cfg.Timeout); err != nil {
		log.Warn().Err(err).Str("success_url", event.SuccessURL).Msg("merchant notification failed")
		metrics.MerchantNotifications.WithLabelValues("failed").Inc()
		if rerr := n.guard.MarkIdempotencyFailed(ctx, key); rerr != nil {
			log.Warn().Err(rerr).Msg("failed to release idempotency key")
		}
		return err
	}

	if err := n.guard.MarkIdempotencyComplete(ctx, key, deliveredMarker, n.cfg.IdempotencyTTL); err != nil {
		log.Warn().Err(err).Msg("failed to record notification")
	}

	log.Info().Msg("merchant notified")
	metrics.MerchantNotifications.WithLabelValues("delivered").Inc()
	return nil
}

// DeadLetter forwards messages that exhausted their retries to the DLQ topic.
func DeadLetter(publisher kafka.Publisher, logger *zerolog.Logger) kafka.DeadLetterFunc {
	return func(ctx context.Context, msg *kafka.Message, cause error) {
		headers := make(map[string]string, len(msg.Headers)+2)
		for k, v := range msg.Headers {
			headers[k] = v
		}
		headers["source_topic"] = msg.Topic
		headers["error"] = cause.Error()
		if err := publisher.PublishWithHeaders(ctx, kafka.TopicDLQ, msg.Key, msg.Value, headers); err != nil {
			logger.Error().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("failed to publish to dlq")
			return
		}
		logger.Warn().Err(cause).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("message sent to dlq")
	}
}
