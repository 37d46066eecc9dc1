package crdb

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the bootstrap DDL. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id INT8 PRIMARY KEY DEFAULT unique_rowid(),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	status STRING NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
	customer_name STRING NOT NULL,
	email STRING NOT NULL,
	phone STRING NOT NULL,
	document_id STRING NOT NULL,
	attendees STRING[],
	ticket_class STRING NOT NULL,
	ticket_name STRING NOT NULL,
	unit_price DECIMAL(10,2) NOT NULL,
	quantity INT4 NOT NULL CHECK (quantity >= 1),
	total_amount DECIMAL(12,2) NOT NULL,
	payment_method STRING NOT NULL,
	payment_proof STRING,
	approved_at TIMESTAMPTZ,
	approved_by STRING,
	rejected_at TIMESTAMPTZ,
	rejection_reason STRING,
	checked_in BOOL NOT NULL DEFAULT false,
	checked_in_at TIMESTAMPTZ,
	checked_in_by STRING,
	CHECK (NOT checked_in OR (status = 'approved' AND checked_in_at IS NOT NULL)),
	INDEX orders_status_created_idx (status, created_at DESC)
);
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type STRING NOT NULL,
	aggregate_id INT8 NOT NULL,
	event_type STRING NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key STRING NOT NULL,
	INDEX outbox_status_created_idx (status, created_at)
);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
