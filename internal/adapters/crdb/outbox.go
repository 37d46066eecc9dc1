package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/boomfest/boom-tickets/internal/domain"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   domain.OrderID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

func newOrderOutbox(event domain.OrderEvent) (OutboxRecord, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return OutboxRecord{}, err
	}
	id := uuid.New()
	return OutboxRecord{
		ID:            id,
		AggregateType: "order",
		AggregateID:   event.OrderID,
		EventType:     event.Type,
		Payload:       payload,
		DedupeKey:     event.Type + ":" + event.OrderID.String() + ":" + id.String(),
	}, nil
}

func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, int64(record.AggregateID), record.EventType, record.Payload, record.DedupeKey)
	return err
}

// GetUnpublishedOutbox locks up to limit NEW records inside tx so that
// concurrent publishers skip them.
func (r *Repository) GetUnpublishedOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]OutboxRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		var aggregateID int64
		err := rows.Scan(&rec.ID, &rec.AggregateType, &aggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		rec.AggregateID = domain.OrderID(aggregateID)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}
