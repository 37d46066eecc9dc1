// Package ticketqr renders the QR code printed on an approved ticket.
package ticketqr

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/skip2/go-qrcode"

	"github.com/boomfest/boom-tickets/internal/domain"
)

const DefaultSize = 256

// Payload is the JSON the door scanner reads back through domain.DecodePayload.
func Payload(o domain.Order) domain.TicketPayload {
	return domain.TicketPayload{
		ID:    o.ID,
		Name:  o.CustomerName,
		Type:  o.TicketName,
		Valid: o.Status == domain.StatusApproved,
	}
}

// PNG encodes the ticket payload of an approved order.
func PNG(o domain.Order, size int) ([]byte, error) {
	if o.Status != domain.StatusApproved {
		return nil, &domain.StateError{OrderID: o.ID, Op: "print ticket for", Status: o.Status}
	}
	data, err := json.Marshal(Payload(o))
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(string(data), qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "encode ticket qr")
	}
	return png, nil
}
