// Package repository implements the product and news caches on top of the
// document store contract.
package repository

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/IshaanNene/hotline-scraper/internal/model"
	"github.com/IshaanNene/hotline-scraper/internal/storage"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

// ProductRepository caches offer lists keyed by canonical product URL.
type ProductRepository struct {
	coll   storage.Collection
	now    func() time.Time
	logger *slog.Logger
}

// NewProductRepository creates a product repository on coll.
func NewProductRepository(coll storage.Collection, logger *slog.Logger) *ProductRepository {
	return &ProductRepository{
		coll:   coll,
		now:    time.Now,
		logger: logger.With("component", "product_repository"),
	}
}

func (r *ProductRepository) persistenceError(op string, err error) error {
	return &types.PersistenceError{Op: op, Collection: r.coll.Name(), Err: err}
}

// EnsureIndexes creates the unique index on url.
func (r *ProductRepository) EnsureIndexes(ctx context.Context) error {
	if err := r.coll.EnsureUniqueIndex(ctx, "url"); err != nil {
		return r.persistenceError("create_index", err)
	}
	return nil
}

// GetByURL returns the cached product, or nil when none is stored.
func (r *ProductRepository) GetByURL(ctx context.Context, canonicalURL string) (*model.Product, error) {
	raw, ok, err := r.coll.FindOne(ctx, storage.Filter{Eq: bson.M{"url": canonicalURL}})
	if err != nil {
		return nil, r.persistenceError("find_one", err)
	}
	if !ok {
		return nil, nil
	}

	var p model.Product
	if err := bson.Unmarshal(raw, &p); err != nil {
		return nil, r.persistenceError("decode", err)
	}
	return &p, nil
}

// SetClock replaces the clock used for created_at and updated_at.
func (r *ProductRepository) SetClock(now func() time.Time) {
	r.now = now
}

// Upsert stores offers for canonicalURL in a single update and returns the
// document id and the updated_at it wrote. created_at is written only when
// the document is inserted; repeated calls with the same offers leave one
// document.
func (r *ProductRepository) Upsert(ctx context.Context, canonicalURL string, offers []model.Offer) (string, time.Time, error) {
	if offers == nil {
		offers = []model.Offer{}
	}
	// BSON dates carry milliseconds.
	now := r.now().UTC().Truncate(time.Millisecond)
	filter := storage.Filter{Eq: bson.M{"url": canonicalURL}}

	res, err := r.coll.UpdateOne(ctx, filter, storage.Update{
		Set:         bson.M{"offers": offers, "updated_at": now},
		SetOnInsert: bson.M{"url": canonicalURL, "created_at": now},
	}, true)
	if err != nil {
		return "", time.Time{}, r.persistenceError("upsert", err)
	}
	if res.UpsertedID != "" {
		r.logger.Debug("product inserted", "url", canonicalURL, "offers", len(offers))
		return res.UpsertedID, now, nil
	}

	existing, err := r.GetByURL(ctx, canonicalURL)
	if err != nil {
		return "", time.Time{}, err
	}
	if existing == nil {
		return "", time.Time{}, r.persistenceError("upsert", types.ErrNotFound)
	}
	r.logger.Debug("product updated", "url", canonicalURL, "offers", len(offers))
	return existing.ID.Hex(), now, nil
}

// Exists reports whether a product is cached for canonicalURL.
func (r *ProductRepository) Exists(ctx context.Context, canonicalURL string) (bool, error) {
	n, err := r.coll.Count(ctx, storage.Filter{Eq: bson.M{"url": canonicalURL}})
	if err != nil {
		return false, r.persistenceError("count", err)
	}
	return n > 0, nil
}

// IsFresh reports whether p was updated less than maxAge before now.
func IsFresh(p *model.Product, maxAge time.Duration, now time.Time) bool {
	if p == nil {
		return false
	}
	return now.Sub(p.UpdatedAt) < maxAge
}
