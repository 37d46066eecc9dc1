package domain

import (
	"context"
	"time"
)

const DefaultListLimit = 500

type OrderFilter struct {
	Status Status
	// Query matches customer name or email, case-insensitive.
	Query string
	// Limit caps the result; 0 means DefaultListLimit, negative means no cap.
	Limit int
}

// StatusChange is a conditional pending -> approved|rejected write.
type StatusChange struct {
	From   Status
	To     Status
	At     time.Time
	Actor  string
	Reason string
}

// OrderStore is the durable source of truth for orders. Updates are
// single-row and conditional: when the precondition does not hold the store
// returns a precondition failure (ErrConflict) and leaves the row untouched;
// ErrNotFound when the row does not exist.
type OrderStore interface {
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	GetOrder(ctx context.Context, id OrderID) (*Order, error)
	InsertOrder(ctx context.Context, order Order) (*Order, error)
	UpdateStatus(ctx context.Context, id OrderID, change StatusChange) (*Order, error)
	// MarkCheckedIn sets checked_in and checked_in_at in one write, only if
	// the order is approved and not checked in yet.
	MarkCheckedIn(ctx context.Context, id OrderID, at time.Time, by string) (*Order, error)
	CountOrders(ctx context.Context, status Status) (int, error)
	// DeleteAll is a maintenance operation and is not part of the protocol.
	DeleteAll(ctx context.Context) (int64, error)
}

// OrderReader is the read side used by the validator; it may be served by a cache.
type OrderReader interface {
	GetOrder(ctx context.Context, id OrderID) (*Order, error)
}
