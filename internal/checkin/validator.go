// Package checkin implements the door protocol: a side-effect free
// validation that yields a verdict, followed after operator confirmation by a
// conditional commit that admits a ticket at most once.
package checkin

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/observability"
)

type Validator struct {
	// reader may be an advisory cache; store is always authoritative.
	reader domain.OrderReader
	store  domain.OrderReader
	logger observability.Logger
}

// NewValidator builds a validator. reader resolves ids and may serve stale
// data; store is consulted directly for the checked-in state.
func NewValidator(reader, store domain.OrderReader, logger observability.Logger) *Validator {
	if reader == nil {
		reader = store
	}
	return &Validator{reader: reader, store: store, logger: logger}
}

// Validate classifies a scanned payload. Errors are returned only when the
// store could not be reached; every other outcome is a verdict.
func (v *Validator) Validate(ctx context.Context, payload string) (domain.Verdict, error) {
	ctx, span := observability.StartSpan(ctx, "checkin", "Validate")
	defer span.End()

	verdict, err := v.validate(ctx, payload)
	if err != nil {
		span.RecordError(err)
		v.logger.WithError(err).WithField("candidate", verdict.Candidate).Error("ticket validation failed")
		return verdict, err
	}
	span.SetAttributes(attribute.String("checkin.verdict", string(verdict.Kind)))
	observability.CheckinVerdicts.WithLabelValues(string(verdict.Kind)).Inc()
	v.logger.WithFields(map[string]interface{}{
		"candidate": verdict.Candidate,
		"verdict":   verdict.Kind,
	}).Info("ticket validated")
	return verdict, nil
}

func (v *Validator) validate(ctx context.Context, payload string) (domain.Verdict, error) {
	verdict := domain.Verdict{Kind: domain.VerdictNotFound, Candidate: domain.DecodePayload(payload)}

	id, err := domain.ParseOrderID(verdict.Candidate)
	if err != nil {
		return verdict, nil
	}

	order, err := v.reader.GetOrder(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return verdict, nil
	}
	if err != nil {
		return verdict, err
	}
	if order.Status != domain.StatusApproved {
		return invalid(verdict, order), nil
	}

	// The reader may be a cache that is seconds behind another door device.
	fresh, err := v.store.GetOrder(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return verdict, nil
	}
	if err != nil {
		return verdict, err
	}
	if fresh.Status != domain.StatusApproved {
		return invalid(verdict, fresh), nil
	}
	verdict.Order = fresh
	verdict.Status = fresh.Status
	if fresh.CheckedIn {
		verdict.Kind = domain.VerdictAlreadyUsed
		verdict.CheckedInAt = fresh.CheckedInAt
		return verdict, nil
	}
	verdict.Kind = domain.VerdictValid
	return verdict, nil
}

func invalid(v domain.Verdict, o *domain.Order) domain.Verdict {
	v.Kind = domain.VerdictInvalid
	v.Status = o.Status
	v.Order = o
	return v
}
