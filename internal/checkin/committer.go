package checkin

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/lifecycle"
	"github.com/boomfest/boom-tickets/internal/observability"
)

type Committer struct {
	store  domain.OrderStore
	cache  lifecycle.Invalidator
	logger observability.Logger
	now    func() time.Time
}

func NewCommitter(store domain.OrderStore, cache lifecycle.Invalidator, logger observability.Logger) *Committer {
	return &Committer{store: store, cache: cache, logger: logger, now: time.Now}
}

// WithClock replaces the clock used for checked_in_at.
func (c *Committer) WithClock(now func() time.Time) *Committer {
	c.now = now
	return c
}

// Commit admits the ticket. It succeeds only if this call performed the
// unused -> used write; any error means the person must not be admitted.
//
// Errors: ErrNotFound, *StateError (not approved), *UsedError matching
// ErrAlreadyUsed (seen by the pre-check) or ErrConflict (lost the write race),
// ErrConflict for an unresolved conflict, ErrStorage on store failure.
func (c *Committer) Commit(ctx context.Context, id domain.OrderID, by string) (*domain.Order, error) {
	ctx, span := observability.StartSpan(ctx, "checkin", "Commit", attribute.Int64("order.id", int64(id)))
	defer span.End()

	log := c.logger.WithFields(map[string]interface{}{"order_id": id, "device": by})
	order, err := c.commit(ctx, id, by)
	if err != nil {
		span.RecordError(err)
		observability.CheckinCommits.WithLabelValues(commitResult(err)).Inc()
		switch {
		case errors.Is(err, domain.ErrConflict):
			log.WithError(err).Warn("check-in lost to a concurrent commit")
		case errors.Is(err, domain.ErrStorage):
			log.WithError(err).Error("check-in commit failed")
		default:
			log.WithError(err).Info("check-in refused")
		}
		return nil, err
	}
	observability.CheckinCommits.WithLabelValues("admitted").Inc()
	if c.cache != nil {
		if err := c.cache.Invalidate(ctx, id); err != nil {
			log.WithError(err).Warn("order cache invalidation failed")
		}
	}
	log.Info("ticket checked in")
	return order, nil
}

func (c *Committer) commit(ctx context.Context, id domain.OrderID, by string) (*domain.Order, error) {
	pre, err := c.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if pre.Status != domain.StatusApproved {
		return nil, &domain.StateError{OrderID: id, Op: "check in", Status: pre.Status}
	}
	if pre.CheckedIn {
		return nil, &domain.UsedError{OrderID: id, CheckedInAt: checkedInAt(pre)}
	}

	order, err := c.store.MarkCheckedIn(ctx, id, c.now().UTC(), by)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}

	// The conditional write matched no row: find out who won.
	current, gerr := c.store.GetOrder(ctx, id)
	if gerr != nil {
		return nil, err
	}
	if current.CheckedIn {
		return nil, &domain.UsedError{OrderID: id, CheckedInAt: checkedInAt(current), Race: true}
	}
	if current.Status != domain.StatusApproved {
		return nil, &domain.StateError{OrderID: id, Op: "check in", Status: current.Status}
	}
	return nil, err
}

func checkedInAt(o *domain.Order) time.Time {
	if o.CheckedInAt == nil {
		return time.Time{}
	}
	return *o.CheckedInAt
}

func commitResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
