package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

const (
	MaxQuantity = 10

	DefaultRejectionReason = "payment could not be verified"
)

// Checkout is the input collected by the checkout form.
type Checkout struct {
	CustomerName  string      `json:"customer_name" validate:"required,max=120"`
	Email         string      `json:"email" validate:"required,email"`
	Phone         string      `json:"phone" validate:"required,min=6,max=20"`
	DocumentID    string      `json:"document_id" validate:"required,min=6,max=20"`
	TicketClass   TicketClass `json:"ticket_class" validate:"required,oneof=gen vip exp"`
	Quantity      int         `json:"quantity" validate:"required,min=1,max=10"`
	PaymentMethod string      `json:"payment_method" validate:"required,oneof=yape plin transfer card"`
	PaymentProof  string      `json:"payment_proof" validate:"omitempty,max=512"`
	Attendees     []string    `json:"attendees" validate:"omitempty,dive,required,max=120"`
}

// NewOrder prices a checkout against tier and returns the pending order to be
// inserted. The tier price is copied so later catalog changes do not touch it.
func NewOrder(in Checkout, tier Tier, now time.Time) (Order, error) {
	if in.Quantity < 1 || in.Quantity > MaxQuantity {
		return Order{}, errors.Wrapf(ErrInvalidInput, "quantity %d out of range", in.Quantity)
	}
	if tier.Class != in.TicketClass {
		return Order{}, errors.Wrapf(ErrInvalidInput, "tier %q does not match class %q", tier.Class, in.TicketClass)
	}
	if len(in.Attendees) > in.Quantity-1 {
		return Order{}, errors.Wrapf(ErrInvalidInput, "%d attendees for %d tickets", len(in.Attendees), in.Quantity)
	}
	attendees := make([]string, 0, len(in.Attendees))
	for _, a := range in.Attendees {
		if a = strings.TrimSpace(a); a != "" {
			attendees = append(attendees, a)
		}
	}
	return Order{
		CreatedAt:     now.UTC(),
		Status:        StatusPending,
		CustomerName:  strings.TrimSpace(in.CustomerName),
		Email:         strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:         strings.TrimSpace(in.Phone),
		DocumentID:    strings.TrimSpace(in.DocumentID),
		Attendees:     attendees,
		TicketClass:   tier.Class,
		TicketName:    tier.Name,
		UnitPrice:     tier.Price,
		Quantity:      in.Quantity,
		TotalAmount:   tier.Price.Mul(decimal.NewFromInt(int64(in.Quantity))),
		PaymentMethod: in.PaymentMethod,
		PaymentProof:  in.PaymentProof,
	}, nil
}

// Admissible reports whether the order may still be checked in.
func (o Order) Admissible() bool {
	return o.Status == StatusApproved && !o.CheckedIn
}
