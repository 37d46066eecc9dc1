// Package outbox relays committed order events from the outbox table to the
// message broker.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/boomfest/boom-tickets/internal/adapters/crdb"
	"github.com/boomfest/boom-tickets/internal/observability"
)

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Store is the outbox side of *crdb.Repository.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetUnpublishedOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error
}

type Publisher struct {
	repo      Store
	broker    Broker
	logger    observability.Logger
	batchSize int
	interval  time.Duration
	retryBase time.Duration
}

func NewPublisher(repo Store, broker Broker, logger observability.Logger) *Publisher {
	return &Publisher{
		repo:      repo,
		broker:    broker,
		logger:    logger,
		batchSize: 50,
		interval:  2 * time.Second,
		retryBase: 100 * time.Millisecond,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("outbox publisher started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return
		case <-ticker.C:
			n, err := p.Drain(ctx)
			if err != nil {
				p.logger.WithError(err).Warn("outbox batch failed")
				continue
			}
			if n > 0 {
				p.logger.WithField("published", n).Debug("outbox batch published")
			}
		}
	}
}

// Drain publishes one batch. Records are locked for the duration of the
// transaction and marked published only after the broker accepted them; a
// failed publish stops the batch so events keep their order.
func (p *Publisher) Drain(ctx context.Context) (int, error) {
	published := 0
	err := p.repo.WithTx(ctx, func(tx pgx.Tx) error {
		published = 0
		records, err := p.repo.GetUnpublishedOutbox(ctx, tx, p.batchSize)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := p.publish(ctx, rec); err != nil {
				if published > 0 {
					return nil
				}
				return err
			}
			now := time.Now().UTC()
			if err := p.repo.MarkPublished(ctx, tx, rec.ID, now); err != nil {
				return err
			}
			observability.OutboxLag.Set(now.Sub(rec.CreatedAt).Seconds())
			published++
		}
		return nil
	})
	return published, err
}

func (p *Publisher) publish(ctx context.Context, rec crdb.OutboxRecord) error {
	msg := amqp.Publishing{
		MessageId:    rec.DedupeKey,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    rec.CreatedAt,
		Body:         rec.Payload,
	}
	const maxRetries = 3
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = p.broker.Publish(ctx, rec.EventType, msg); err == nil {
			return nil
		}
		observability.RabbitPublishRetries.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<i) * p.retryBase):
		}
	}
	p.logger.WithError(err).WithFields(map[string]interface{}{
		"event":    rec.EventType,
		"order_id": rec.AggregateID,
	}).Error("failed to publish outbox record")
	return err
}
