package crdb

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/observability"
)

const (
	SerializationFailureCode = "40001"
)

const orderColumns = `id, created_at, status, customer_name, email, phone, document_id, attendees,
	ticket_class, ticket_name, unit_price, quantity, total_amount, payment_method, payment_proof,
	approved_at, approved_by, rejected_at, rejection_reason, checked_in, checked_in_at, checked_in_by`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err = fn(tx); err == nil {
		err = tx.Commit(ctx)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return domain.ErrSerializationFailure
	}
	return err
}

func (r *Repository) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit == 0 {
		limit = domain.DefaultListLimit
	}
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = $1")
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		// strpos matches the term literally, % and _ included.
		args = append(args, strings.ToLower(q))
		n := "$" + strconv.Itoa(len(args))
		where = append(where, "(strpos(lower(customer_name), "+n+") > 0 OR strpos(email, "+n+") > 0)")
	}
	sql := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		sql += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.StorageFailure(err, "list orders")
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, domain.StorageFailure(err, "scan order")
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageFailure(err, "list orders")
	}
	return orders, nil
}

func (r *Repository) GetOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	return getOrder(ctx, r.pool, id)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getOrder(ctx context.Context, q queryRower, id domain.OrderID) (*domain.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageFailure(err, "get order")
	}
	return &o, nil
}

func (r *Repository) InsertOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO orders (created_at, status, customer_name, email, phone, document_id, attendees,
				ticket_class, ticket_name, unit_price, quantity, total_amount, payment_method, payment_proof)
			VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''))
			RETURNING id
		`, order.CreatedAt, order.CustomerName, order.Email, order.Phone, order.DocumentID, order.Attendees,
			string(order.TicketClass), order.TicketName, order.UnitPrice, order.Quantity, order.TotalAmount,
			order.PaymentMethod, order.PaymentProof).Scan(&id)
		if err != nil {
			return err
		}
		order.ID = domain.OrderID(id)
		order.Status = domain.StatusPending
		return r.emit(ctx, tx, domain.EventOrderCreated, order, "", "", order.CreatedAt)
	})
	if err != nil {
		return nil, domain.StorageFailure(err, "insert order")
	}
	return &order, nil
}

// UpdateStatus applies a status change only if the row still has change.From.
func (r *Repository) UpdateStatus(ctx context.Context, id domain.OrderID, change domain.StatusChange) (*domain.Order, error) {
	var sql, event string
	args := []any{int64(id), string(change.From), string(change.To), change.At}
	switch change.To {
	case domain.StatusApproved:
		sql = `UPDATE orders SET status = $3, approved_at = $4, approved_by = $5
			WHERE id = $1 AND status = $2 RETURNING ` + orderColumns
		args = append(args, change.Actor)
		event = domain.EventOrderApproved
	case domain.StatusRejected:
		sql = `UPDATE orders SET status = $3, rejected_at = $4, rejection_reason = $5
			WHERE id = $1 AND status = $2 RETURNING ` + orderColumns
		args = append(args, change.Reason)
		event = domain.EventOrderRejected
	default:
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unsupported target status %q", change.To)
	}
	return r.conditionalUpdate(ctx, id, sql, args, func(o domain.Order) domain.OrderEvent {
		return orderEvent(event, o, change.Actor, change.Reason, change.At)
	})
}

// MarkCheckedIn is the check-in gate: the WHERE clause makes two concurrent
// commits for the same order resolve to one updated row.
func (r *Repository) MarkCheckedIn(ctx context.Context, id domain.OrderID, at time.Time, by string) (*domain.Order, error) {
	sql := `UPDATE orders SET checked_in = true, checked_in_at = $2, checked_in_by = $3
		WHERE id = $1 AND status = 'approved' AND checked_in = false RETURNING ` + orderColumns
	return r.conditionalUpdate(ctx, id, sql, []any{int64(id), at, by}, func(o domain.Order) domain.OrderEvent {
		return orderEvent(domain.EventOrderCheckedIn, o, by, "", at)
	})
}

func (r *Repository) conditionalUpdate(ctx context.Context, id domain.OrderID, sql string, args []any, event func(domain.Order) domain.OrderEvent) (*domain.Order, error) {
	var updated *domain.Order
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, sql, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		updated = &o
		return r.insertEvent(ctx, tx, event(o))
	})
	if errors.Is(err, domain.ErrSerializationFailure) {
		return nil, errors.Wrapf(domain.ErrConflict, "order %s: concurrent transaction", id)
	}
	if err != nil {
		return nil, domain.StorageFailure(err, "update order")
	}
	if updated != nil {
		return updated, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, int64(id)).Scan(&exists); err != nil {
		return nil, domain.StorageFailure(err, "check order")
	}
	if !exists {
		return nil, domain.ErrNotFound
	}
	return nil, errors.Wrapf(domain.ErrConflict, "order %s precondition failed", id)
}

func (r *Repository) CountOrders(ctx context.Context, status domain.Status) (int, error) {
	var n int
	var err error
	if status == "" {
		err = r.pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&n)
	} else {
		err = r.pool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE status = $1`, string(status)).Scan(&n)
	}
	if err != nil {
		return 0, domain.StorageFailure(err, "count orders")
	}
	return n, nil
}

func (r *Repository) DeleteAll(ctx context.Context) (int64, error) {
	var n int64
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM orders WHERE true`)
		if err != nil {
			return err
		}
		n = result.RowsAffected()
		return r.insertEvent(ctx, tx, domain.OrderEvent{
			Type:       domain.EventOrdersReset,
			Quantity:   int(n),
			OccurredAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return 0, domain.StorageFailure(err, "delete orders")
	}
	return n, nil
}

func (r *Repository) emit(ctx context.Context, tx pgx.Tx, typ string, o domain.Order, actor, reason string, at time.Time) error {
	return r.insertEvent(ctx, tx, orderEvent(typ, o, actor, reason, at))
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, event domain.OrderEvent) error {
	rec, err := newOrderOutbox(event)
	if err != nil {
		return err
	}
	return r.InsertOutbox(ctx, tx, rec)
}

func orderEvent(typ string, o domain.Order, actor, reason string, at time.Time) domain.OrderEvent {
	return domain.OrderEvent{
		Type:        typ,
		OrderID:     o.ID,
		Status:      o.Status,
		Actor:       actor,
		Reason:      reason,
		Quantity:    o.Quantity,
		TotalAmount: o.TotalAmount.String(),
		OccurredAt:  at.UTC(),
	}
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                                      domain.Order
		id                                     int64
		status, class                          string
		proof, approvedBy, reason, checkedInBy *string
	)
	err := row.Scan(&id, &o.CreatedAt, &status, &o.CustomerName, &o.Email, &o.Phone, &o.DocumentID, &o.Attendees,
		&class, &o.TicketName, &o.UnitPrice, &o.Quantity, &o.TotalAmount, &o.PaymentMethod, &proof,
		&o.ApprovedAt, &approvedBy, &o.RejectedAt, &reason, &o.CheckedIn, &o.CheckedInAt, &checkedInBy)
	if err != nil {
		return domain.Order{}, err
	}
	o.ID = domain.OrderID(id)
	o.Status = domain.Status(status)
	o.TicketClass = domain.TicketClass(class)
	o.PaymentProof = deref(proof)
	o.ApprovedBy = deref(approvedBy)
	o.RejectionReason = deref(reason)
	o.CheckedInBy = deref(checkedInBy)
	return o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

