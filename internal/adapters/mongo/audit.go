package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/observability"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	OrderID   int64     `bson:"order_id,omitempty"`
	Actor     string    `bson:"actor,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

// EnsureIndexes creates the lookup index used by OrderHistory.
func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return err
}

// LogEvent inserts one audit entry. id makes redelivered messages idempotent;
// an empty id gets a fresh one.
func (a *AuditLogger) LogEvent(ctx context.Context, id, action string, orderID domain.OrderID, actor string, at time.Time, data map[string]interface{}) error {
	if id == "" {
		id = uuid.New().String()
	}
	log := AuditLog{
		ID:        id,
		Action:    action,
		OrderID:   int64(orderID),
		Actor:     actor,
		Timestamp: at,
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogOrderEvent(ctx context.Context, id string, event domain.OrderEvent) error {
	data := map[string]interface{}{
		"status": string(event.Status),
	}
	if event.Reason != "" {
		data["reason"] = event.Reason
	}
	if event.Quantity != 0 {
		data["quantity"] = event.Quantity
	}
	if event.TotalAmount != "" {
		data["total_amount"] = event.TotalAmount
	}
	return a.LogEvent(ctx, id, event.Type, event.OrderID, event.Actor, event.OccurredAt, data)
}

// OrderHistory returns audit entries for one order, oldest first.
func (a *AuditLogger) OrderHistory(ctx context.Context, id domain.OrderID) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"order_id": int64(id)}, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
