package mongo

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/observability"
)

// CatalogRepository serves tiers from the "tiers" collection. Classes without
// a document fall back to the static defaults.
type CatalogRepository struct {
	coll     *mongo.Collection
	fallback domain.Catalog
	logger   observability.Logger
}

func NewCatalogRepository(db *mongo.Database, fallback domain.Catalog, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:     db.Collection("tiers"),
		fallback: fallback,
		logger:   logger,
	}
}

type TierDoc struct {
	Class     string               `bson:"_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Currency  string               `bson:"currency"`
	Features  []string             `bson:"features"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func (d TierDoc) tier() (domain.Tier, error) {
	price, err := decimal.NewFromString(d.Price.String())
	if err != nil {
		return domain.Tier{}, errors.Wrapf(err, "tier %s price", d.Class)
	}
	return domain.Tier{
		Class:    domain.TicketClass(d.Class),
		Name:     d.Name,
		Price:    price,
		Currency: d.Currency,
		Features: d.Features,
	}, nil
}

func (c *CatalogRepository) Tier(ctx context.Context, class domain.TicketClass) (domain.Tier, error) {
	var doc TierDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": string(class)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return c.fallback.Tier(ctx, class)
	}
	if err != nil {
		c.logger.WithError(err).WithField("class", class).Warn("tier lookup failed, using defaults")
		return c.fallback.Tier(ctx, class)
	}
	return doc.tier()
}

func (c *CatalogRepository) Tiers(ctx context.Context) ([]domain.Tier, error) {
	defaults, err := c.fallback.Tiers(ctx)
	if err != nil {
		return nil, err
	}
	byClass := make(map[domain.TicketClass]domain.Tier, len(defaults))
	for _, t := range defaults {
		byClass[t.Class] = t
	}

	cur, err := c.coll.Find(ctx, bson.M{})
	if err != nil {
		c.logger.WithError(err).Warn("tier listing failed, using defaults")
		return defaults, nil
	}
	var docs []TierDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		t, err := d.tier()
		if err != nil {
			return nil, err
		}
		byClass[t.Class] = t
	}

	out := make([]domain.Tier, 0, len(byClass))
	for _, t := range byClass {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}

// UpsertTier overrides the price or features of a class.
func (c *CatalogRepository) UpsertTier(ctx context.Context, tier domain.Tier) error {
	price, err := primitive.ParseDecimal128(tier.Price.String())
	if err != nil {
		return err
	}
	doc := TierDoc{
		Class:     string(tier.Class),
		Name:      tier.Name,
		Price:     price,
		Currency:  tier.Currency,
		Features:  tier.Features,
		UpdatedAt: time.Now().UTC(),
	}
	_, err = c.coll.ReplaceOne(ctx, bson.M{"_id": doc.Class}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.WithError(err).WithField("class", tier.Class).Error("failed to upsert tier")
	}
	return err
}
