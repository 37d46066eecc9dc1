package domain

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Catalog resolves ticket classes to their current tier.
type Catalog interface {
	Tier(ctx context.Context, class TicketClass) (Tier, error)
	Tiers(ctx context.Context) ([]Tier, error)
}

const Currency = "PEN"

// DefaultTiers are the BOOM! 2026 launch prices.
var DefaultTiers = []Tier{
	{
		Class:    ClassGeneral,
		Name:     "GENERAL",
		Price:    decimal.NewFromInt(15),
		Currency: Currency,
		Features: []string{"Event access", "General area", "360 visual experience", "Food court access"},
	},
	{
		Class:    ClassVIP,
		Name:     "VIP",
		Price:    decimal.NewFromInt(20),
		Currency: Currency,
		Features: []string{"Fast pass entry", "Raised VIP area", "2 courtesy drinks", "Private restrooms"},
	},
	{
		Class:    ClassExp,
		Name:     "BOOM! EXP",
		Price:    decimal.NewFromInt(50),
		Currency: Currency,
		Features: []string{"All access", "Backstage lounge", "Premium open bar", "After party access"},
	},
}

// StaticCatalog serves a fixed set of tiers.
type StaticCatalog struct {
	tiers map[TicketClass]Tier
}

func NewStaticCatalog(tiers []Tier) *StaticCatalog {
	m := make(map[TicketClass]Tier, len(tiers))
	for _, t := range tiers {
		m[t.Class] = t
	}
	return &StaticCatalog{tiers: m}
}

func (c *StaticCatalog) Tier(_ context.Context, class TicketClass) (Tier, error) {
	t, ok := c.tiers[class]
	if !ok {
		return Tier{}, errors.Wrapf(ErrInvalidInput, "unknown ticket class %q", class)
	}
	return t, nil
}

func (c *StaticCatalog) Tiers(_ context.Context) ([]Tier, error) {
	out := make([]Tier, 0, len(c.tiers))
	for _, t := range c.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}
