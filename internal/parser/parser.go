// Package parser turns rendered markup into offers and articles. Every known
// source has its own hand-written strategy; the Registry maps URLs to them.
package parser

import (
	"context"
	"net/url"
	"time"

	"github.com/IshaanNene/hotline-scraper/internal/model"
)

// Source identifies one supported site.
type Source int

const (
	SourceHotline Source = iota + 1
	SourceEpravda
	SourcePoliteka
	SourcePravda
)

func (s Source) String() string {
	switch s {
	case SourceHotline:
		return "hotline"
	case SourceEpravda:
		return "epravda"
	case SourcePoliteka:
		return "politeka"
	case SourcePravda:
		return "pravda"
	default:
		return "unknown"
	}
}

// Kind is the record family a source produces.
type Kind string

const (
	KindProducts Kind = "products"
	KindNews     Kind = "news"
)

// Strategy is implemented by every source-specific extractor.
type Strategy interface {
	Source() Source
}

// OfferStrategy extracts product offers from a rendered product page.
type OfferStrategy interface {
	Strategy
	// ExtractOffers returns offers in DOM order. Malformed offers are skipped;
	// an error is returned only when the offers container is missing.
	ExtractOffers(ctx context.Context, pageURL, markup string) ([]model.Offer, error)
}

// ArticleRef is one article link found on a news listing page.
type ArticleRef struct {
	URL         string
	Title       string
	PublishedAt time.Time // zero if the listing shows no parseable date
}

// NewsStrategy extracts articles from a news source in two steps: the
// listing page yields references, each article page yields its data.
type NewsStrategy interface {
	Strategy
	// ExtractListing returns article references in DOM order. Malformed
	// entries are skipped; an error is returned when the list container is missing.
	ExtractListing(markup string, base *url.URL) ([]ArticleRef, error)
	// ExtractArticle returns the data of one article page. It fails when no
	// title or publication time can be found.
	ExtractArticle(markup string, ref ArticleRef) (*model.ArticleData, error)
}

// Resolver maps an offer link to its redirect target.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}
