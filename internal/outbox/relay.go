package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/Niiaks/Chainpaye/internal/kafka"
	"github.com/Niiaks/Chainpaye/internal/metrics"
	"github.com/Niiaks/Chainpaye/internal/model"
)

const maxPublishAttempts = 5

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Relay moves pending checkout_outbox rows onto Kafka.
type Relay struct {
	db        DB
	publisher kafka.Publisher
	logger    *zerolog.Logger
	batchSize int
	interval  time.Duration
}

func NewRelay(db DB, publisher kafka.Publisher, logger *zerolog.Logger, interval time.Duration) *Relay {
	return &Relay{
		db:        db,
		publisher: publisher,
		logger:    logger,
		batchSize: 100,
		interval:  interval,
	}
}

func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.interval).Msg("starting outbox relay")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("stopping outbox relay")
			return nil
		case <-ticker.C:
			if err := r.processBatch(ctx); err != nil {
				r.logger.Error().Err(err).Msg("failed to process outbox batch")
			}
		}
	}
}

func (r *Relay) processBatch(ctx context.Context) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, payload, partition_key, correlation_id, retry_count
		FROM checkout_outbox
		WHERE status = 'pending'
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return err
	}

	var events []model.CheckoutOutbox
	for rows.Next() {
		var e model.CheckoutOutbox
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &e.PartitionKey, &e.CorrelationID, &e.RetryCount); err != nil {
			rows.Close()
			return err
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}
	r.logger.Debug().Int("count", len(events)).Msg("fetched outbox events")

	var processedIDs []int64
	for _, e := range events {
		topic := kafka.TopicForEvent(e.EventType)
		publishErr := r.publisher.PublishWithHeaders(ctx, topic, []byte(e.PartitionKey), e.Payload, map[string]string{
			"event_type":     e.EventType,
			"correlation_id": e.CorrelationID.String(),
		})
		if publishErr != nil {
			r.logger.Error().Err(publishErr).
				Int64("event_id", e.ID).
				Str("event_type", e.EventType).
				Msg("failed to publish outbox event")
			metrics.OutboxPublished.WithLabelValues(topic, "error").Inc()

			status := "pending"
			if e.RetryCount+1 >= maxPublishAttempts {
				status = "failed"
			}
			if _, err := tx.Exec(ctx, `
				UPDATE checkout_outbox
				SET retry_count = retry_count + 1, last_error = $2, status = $3, updated_at = NOW()
				WHERE id = $1
			`, e.ID, publishErr.Error(), status); err != nil {
				return err
			}
			continue
		}
		metrics.OutboxPublished.WithLabelValues(topic, "ok").Inc()
		processedIDs = append(processedIDs, e.ID)
	}

	if len(processedIDs) > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE checkout_outbox
			SET status = 'processed', updated_at = NOW()
			WHERE id = ANY($1)
		`, processedIDs); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
