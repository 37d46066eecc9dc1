package domain

import "time"

const (
	EventOrderCreated   = "order.created"
	EventOrderApproved  = "order.approved"
	EventOrderRejected  = "order.rejected"
	EventOrderCheckedIn = "order.checked_in"
	EventOrdersReset    = "orders.reset"
)

// OrderEvent is the payload published for every order transition.
type OrderEvent struct {
	Type        string    `json:"type"`
	OrderID     OrderID   `json:"order_id"`
	Status      Status    `json:"status"`
	Actor       string    `json:"actor,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Quantity    int       `json:"quantity,omitempty"`
	TotalAmount string    `json:"total_amount,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
