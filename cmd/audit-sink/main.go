package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/boomfest/boom-tickets/internal/adapters/mongo"
	"github.com/boomfest/boom-tickets/internal/adapters/rabbit"
	"github.com/boomfest/boom-tickets/internal/config"
	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/observability"
)

const queue = "boom.audit.q"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.MongoURI == "" || cfg.RabbitURL == "" {
		log.Fatal("audit sink needs MONGO_URI and RABBIT_URL")
	}

	logger := observability.NewLoggerWithLevel(cfg.LogLevel).WithField("component", "audit-sink")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)
	if err := audit.EnsureIndexes(ctx); err != nil {
		log.Fatalf("failed to create audit indexes: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, queue, rabbit.OrderRoutingKeys...)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", queue, err)
	}

	go func() {
		for d := range deliveries {
			handle(ctx, audit, logger, d)
		}
		logger.Warn("delivery channel closed")
		cancel()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("Shutdown audit sink")
}

// handle stores one event. Malformed messages are dropped; store failures are
// requeued. The message id keeps redeliveries from duplicating entries.
func handle(ctx context.Context, audit *mongoadapter.AuditLogger, logger observability.Logger, d amqp.Delivery) {
	var event domain.OrderEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		logger.WithError(err).WithField("routing_key", d.RoutingKey).Error("dropping malformed event")
		d.Nack(false, false)
		return
	}
	if err := audit.LogOrderEvent(ctx, d.MessageId, event); err != nil {
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}
