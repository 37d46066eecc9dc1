package domain

import "time"

type VerdictKind string

const (
	VerdictNotFound    VerdictKind = "NOT_FOUND"
	VerdictInvalid     VerdictKind = "INVALID"
	VerdictAlreadyUsed VerdictKind = "ALREADY_USED"
	VerdictValid       VerdictKind = "VALID"
)

// Verdict answers whether a scanned ticket may enter now.
type Verdict struct {
	Kind        VerdictKind `json:"verdict"`
	Candidate   string      `json:"candidate"`
	Status      Status      `json:"status,omitempty"`
	CheckedInAt *time.Time  `json:"checked_in_at,omitempty"`
	Order       *Order      `json:"order,omitempty"`
}

// Admit is true only for VALID. Anything else means do not admit.
func (v Verdict) Admit() bool {
	return v.Kind == VerdictValid
}

func (v Verdict) Message() string {
	switch v.Kind {
	case VerdictValid:
		return "valid ticket, confirm to admit"
	case VerdictAlreadyUsed:
		if v.CheckedInAt == nil {
			return "ticket already used, do not admit"
		}
		return "ticket already used at " + v.CheckedInAt.Local().Format("15:04:05") + ", do not admit"
	case VerdictInvalid:
		return "order is " + string(v.Status) + ", do not admit"
	default:
		return "ticket not found, do not admit"
	}
}
