// Package lifecycle owns the order approval state machine:
// pending -> approved | rejected, both terminal.
package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/observability"
)

// ResetConfirmation must be supplied verbatim to wipe the order table.
const ResetConfirmation = "DELETE ALL ORDERS"

// Invalidator drops cached copies of an order after it changes.
type Invalidator interface {
	Invalidate(ctx context.Context, id domain.OrderID) error
}

type Manager struct {
	store     domain.OrderStore
	catalog   domain.Catalog
	cache     Invalidator
	logger    observability.Logger
	now       func() time.Time
	listLimit int
}

type Option func(*Manager)

func WithCache(cache Invalidator) Option {
	return func(m *Manager) { m.cache = cache }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithListLimit(n int) Option {
	return func(m *Manager) { m.listLimit = n }
}

func NewManager(store domain.OrderStore, catalog domain.Catalog, logger observability.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		catalog:   catalog,
		logger:    logger,
		now:       time.Now,
		listLimit: domain.DefaultListLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create prices a checkout and stores it as a pending order.
func (m *Manager) Create(ctx context.Context, in domain.Checkout) (*domain.Order, error) {
	tier, err := m.catalog.Tier(ctx, in.TicketClass)
	if err != nil {
		return nil, err
	}
	order, err := domain.NewOrder(in, tier, m.now())
	if err != nil {
		return nil, err
	}
	created, err := m.store.InsertOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	m.logger.WithFields(map[string]interface{}{
		"order_id": created.ID,
		"class":    created.TicketClass,
		"quantity": created.Quantity,
		"total":    created.TotalAmount.String(),
	}).Info("order created")
	return created, nil
}

func (m *Manager) Get(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	return m.store.GetOrder(ctx, id)
}

func (m *Manager) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Limit == 0 || filter.Limit > m.listLimit {
		filter.Limit = m.listLimit
	}
	return m.store.ListOrders(ctx, filter)
}

func (m *Manager) ListPending(ctx context.Context, limit int) ([]domain.Order, error) {
	return m.List(ctx, domain.OrderFilter{Status: domain.StatusPending, Limit: limit})
}

func (m *Manager) ListApproved(ctx context.Context, limit int) ([]domain.Order, error) {
	return m.List(ctx, domain.OrderFilter{Status: domain.StatusApproved, Limit: limit})
}

// Approve moves a pending order to approved. Approving an approved order is a
// no-op; approving a rejected one fails with ErrInvalidState.
func (m *Manager) Approve(ctx context.Context, id domain.OrderID, actor string) (*domain.Order, error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle", "Approve", attribute.Int64("order.id", int64(id)))
	defer span.End()

	return m.transition(ctx, id, domain.StatusChange{
		From:  domain.StatusPending,
		To:    domain.StatusApproved,
		At:    m.now().UTC(),
		Actor: actor,
	}, "approve")
}

// Reject moves a pending order to rejected. An empty reason is replaced by
// DefaultRejectionReason.
func (m *Manager) Reject(ctx context.Context, id domain.OrderID, reason, actor string) (*domain.Order, error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle", "Reject", attribute.Int64("order.id", int64(id)))
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = domain.DefaultRejectionReason
	}
	return m.transition(ctx, id, domain.StatusChange{
		From:   domain.StatusPending,
		To:     domain.StatusRejected,
		At:     m.now().UTC(),
		Actor:  actor,
		Reason: reason,
	}, "reject")
}

func (m *Manager) transition(ctx context.Context, id domain.OrderID, change domain.StatusChange, op string) (*domain.Order, error) {
	log := m.logger.WithFields(map[string]interface{}{"order_id": id, "actor": change.Actor, "op": op})

	order, err := m.store.UpdateStatus(ctx, id, change)
	if err == nil {
		observability.OrderTransitions.WithLabelValues(string(change.To)).Inc()
		m.invalidate(ctx, id)
		log.Info("order status changed")
		return order, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		if !errors.Is(err, domain.ErrNotFound) {
			log.WithError(err).Error("order status change failed")
		}
		return nil, err
	}

	current, gerr := m.store.GetOrder(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	switch current.Status {
	case change.To:
		log.Warn("order already " + string(change.To) + ", nothing to do")
		return current, nil
	case change.From:
		// Lost a transaction retry, the row is unchanged.
		return nil, err
	default:
		log.WithField("status", current.Status).Warn("order status change refused")
		return nil, &domain.StateError{OrderID: id, Op: op, Status: current.Status}
	}
}

// Stats computes dashboard totals from a fresh snapshot of the store.
func (m *Manager) Stats(ctx context.Context) (domain.Stats, error) {
	var (
		approved []domain.Order
		pending  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		approved, err = m.store.ListOrders(gctx, domain.OrderFilter{Status: domain.StatusApproved, Limit: -1})
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = m.store.CountOrders(gctx, domain.StatusPending)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Stats{}, err
	}
	stats := domain.ComputeStats(approved)
	stats.PendingCount = pending
	return stats, nil
}

// Reset deletes every order. It is a maintenance action outside the
// protocol and requires the exact ResetConfirmation phrase.
func (m *Manager) Reset(ctx context.Context, confirmation, actor string) (int64, error) {
	if confirmation != ResetConfirmation {
		return 0, errors.Wrap(domain.ErrInvalidInput, "reset confirmation phrase does not match")
	}
	n, err := m.store.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	m.logger.WithFields(map[string]interface{}{"actor": actor, "deleted": n}).Warn("order table reset")
	return n, nil
}

func (m *Manager) invalidate(ctx context.Context, id domain.OrderID) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, id); err != nil {
		m.logger.WithError(err).WithField("order_id", id).Warn("order cache invalidation failed")
	}
}
