package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// OrderID is assigned by the store at insert time. CockroachDB hands out
// unique_rowid() values, which are timestamp-derived but not strictly ordered.
type OrderID int64

func (id OrderID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// MarshalJSON writes the id as a string: unique_rowid values exceed the
// integer range JavaScript clients can represent exactly.
func (id OrderID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON accepts both the string and the bare number form.
func (id *OrderID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.Wrapf(ErrInvalidInput, "order id %q", s)
	}
	*id = OrderID(n)
	return nil
}

// ParseOrderID parses the decimal form of an order id.
func ParseOrderID(s string) (OrderID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidInput
	}
	return OrderID(n), nil
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

type TicketClass string

const (
	ClassGeneral TicketClass = "gen"
	ClassVIP     TicketClass = "vip"
	ClassExp     TicketClass = "exp"
)

// Tier is a sellable ticket class with its current price.
type Tier struct {
	Class    TicketClass     `json:"class"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Features []string        `json:"features,omitempty"`
}

type Order struct {
	ID        OrderID   `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`

	CustomerName string   `json:"customer_name"`
	Email        string   `json:"email"`
	Phone        string   `json:"phone"`
	DocumentID   string   `json:"document_id"`
	Attendees    []string `json:"attendees,omitempty"`

	TicketClass TicketClass     `json:"ticket_class"`
	TicketName  string          `json:"ticket_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	TotalAmount decimal.Decimal `json:"total_amount"`

	PaymentMethod string `json:"payment_method"`
	PaymentProof  string `json:"payment_proof,omitempty"`

	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	CheckedIn   bool       `json:"checked_in"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CheckedInBy string     `json:"checked_in_by,omitempty"`
}
