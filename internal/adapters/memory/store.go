// Package memory is an OrderStore kept in process memory. It backs demo mode
// (no CRDB_DSN configured) and the protocol tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/boomfest/boom-tickets/internal/domain"
)

type Store struct {
	mu     sync.Mutex
	nextID domain.OrderID
	orders map[domain.OrderID]domain.Order
	events []domain.OrderEvent
}

func NewStore() *Store {
	return &Store{
		nextID: domain.OrderID(time.Now().UnixMilli()),
		orders: make(map[domain.OrderID]domain.Order),
	}
}

// Put stores order as-is, keeping its id. Used to seed fixtures.
func (s *Store) Put(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = clone(order)
}

// Events returns the transitions recorded so far.
func (s *Store) Events() []domain.OrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OrderEvent(nil), s.events...)
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(filter.Query))
	var out []domain.Order
	for _, o := range s.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(o.CustomerName), q) && !strings.Contains(o.Email, q) {
			continue
		}
		out = append(out, clone(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	limit := filter.Limit
	if limit == 0 {
		limit = domain.DefaultListLimit
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetOrder(_ context.Context, id domain.OrderID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	o = clone(o)
	return &o, nil
}

func (s *Store) InsertOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	order.ID = s.nextID
	order.Status = domain.StatusPending
	order.CheckedIn = false
	order.CheckedInAt = nil
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	s.orders[order.ID] = clone(order)
	s.record(domain.EventOrderCreated, order, "", "", order.CreatedAt)
	return &order, nil
}

func (s *Store) UpdateStatus(_ context.Context, id domain.OrderID, change domain.StatusChange) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if o.Status != change.From {
		return nil, errors.Wrapf(domain.ErrConflict, "order %s is %s", id, o.Status)
	}
	at := change.At
	o.Status = change.To
	event := domain.EventOrderApproved
	switch change.To {
	case domain.StatusApproved:
		o.ApprovedAt = &at
		o.ApprovedBy = change.Actor
	case domain.StatusRejected:
		o.RejectedAt = &at
		o.RejectionReason = change.Reason
		event = domain.EventOrderRejected
	default:
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unsupported target status %q", change.To)
	}
	s.orders[id] = o
	s.record(event, o, change.Actor, change.Reason, at)
	o = clone(o)
	return &o, nil
}

func (s *Store) MarkCheckedIn(_ context.Context, id domain.OrderID, at time.Time, by string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if o.Status != domain.StatusApproved || o.CheckedIn {
		return nil, errors.Wrapf(domain.ErrConflict, "order %s not admissible", id)
	}
	o.CheckedIn = true
	o.CheckedInAt = &at
	o.CheckedInBy = by
	s.orders[id] = o
	s.record(domain.EventOrderCheckedIn, o, by, "", at)
	o = clone(o)
	return &o, nil
}

func (s *Store) CountOrders(_ context.Context, status domain.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if status == "" || o.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.orders))
	s.orders = make(map[domain.OrderID]domain.Order)
	s.events = append(s.events, domain.OrderEvent{Type: domain.EventOrdersReset, OccurredAt: time.Now().UTC()})
	return n, nil
}

func (s *Store) record(typ string, o domain.Order, actor, reason string, at time.Time) {
	s.events = append(s.events, domain.OrderEvent{
		Type:        typ,
		OrderID:     o.ID,
		Status:      o.Status,
		Actor:       actor,
		Reason:      reason,
		Quantity:    o.Quantity,
		TotalAmount: o.TotalAmount.String(),
		OccurredAt:  at,
	})
}

func clone(o domain.Order) domain.Order {
	if o.Attendees != nil {
		o.Attendees = append([]string(nil), o.Attendees...)
	}
	if o.CheckedInAt != nil {
		t := *o.CheckedInAt
		o.CheckedInAt = &t
	}
	if o.ApprovedAt != nil {
		t := *o.ApprovedAt
		o.ApprovedAt = &t
	}
	if o.RejectedAt != nil {
		t := *o.RejectedAt
		o.RejectedAt = &t
	}
	return o
}
