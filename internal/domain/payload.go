package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ReferencePrefix is printed before the order id in purchase confirmations.
const ReferencePrefix = "BOOM-"

// TicketPayload is the JSON object encoded in ticket QR codes.
type TicketPayload struct {
	ID    OrderID `json:"id"`
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Valid bool    `json:"valid"`
}

// DecodePayload extracts a candidate order id from a scanned or typed payload.
// A JSON object with an id field wins; anything else is taken whole.
func DecodePayload(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "{") {
		var obj struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal([]byte(s), &obj); err == nil && len(obj.ID) > 0 {
			if id, ok := rawID(obj.ID); ok {
				return stripReference(id)
			}
		}
	}
	return stripReference(s)
}

func rawID(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", false
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

func stripReference(s string) string {
	if len(s) > len(ReferencePrefix) && strings.EqualFold(s[:len(ReferencePrefix)], ReferencePrefix) {
		return s[len(ReferencePrefix):]
	}
	return s
}
