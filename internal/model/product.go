// Package model holds the normalized records produced by extraction and
// persisted by the repositories.
package model

import (
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Offer is one shop's listing for a product.
type Offer struct {
	URL         string  `bson:"url"          json:"url"`
	OriginalURL string  `bson:"original_url" json:"original_url"`
	Title       string  `bson:"title"        json:"title"`
	Shop        string  `bson:"shop"         json:"shop"`
	Price       float64 `bson:"price"        json:"price"`
	IsUsed      bool    `bson:"is_used"      json:"is_used"`

	// PriceUnreadable marks a price element that was present but could not be
	// parsed. Price is 0 in that case. Not persisted.
	PriceUnreadable bool `bson:"-" json:"-"`
}

// Product is the cached offer list for one canonical product URL.
type Product struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	URL       string             `bson:"url"           json:"url"`
	Offers    []Offer            `bson:"offers"        json:"offers"`
	CreatedAt time.Time          `bson:"created_at"    json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"    json:"updated_at"`
}

// Price sort orders accepted by SortOffers.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// SortOffers returns a copy of offers ordered by price and truncated to limit.
// An empty order keeps extraction order; limit <= 0 means no limit.
func SortOffers(offers []Offer, order string, limit int) []Offer {
	out := make([]Offer, len(offers))
	copy(out, offers)

	switch strings.ToLower(order) {
	case SortAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	case SortDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
