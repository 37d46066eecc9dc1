package domain

import "github.com/shopspring/decimal"

type Stats struct {
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TicketsSold   int             `json:"tickets_sold"`
	CustomerCount int             `json:"customer_count"`
	PendingCount  int             `json:"pending_count"`
	CheckedIn     int             `json:"checked_in"`
}

// ComputeStats aggregates a snapshot of orders. Revenue, tickets and customers
// count approved orders only.
func ComputeStats(orders []Order) Stats {
	s := Stats{TotalRevenue: decimal.Zero}
	for _, o := range orders {
		switch o.Status {
		case StatusApproved:
			s.TotalRevenue = s.TotalRevenue.Add(o.TotalAmount)
			s.TicketsSold += o.Quantity
			s.CustomerCount++
			if o.CheckedIn {
				s.CheckedIn++
			}
		case StatusPending:
			s.PendingCount++
		}
	}
	return s
}
