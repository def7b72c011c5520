package pipeline

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/IshaanNene/hotline-scraper/internal/model"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

// --- News Middleware ---

var tagRe = regexp.MustCompile(`<[^>]*>`)

// sanitizeText strips tags, decodes entities and collapses whitespace.
func sanitizeText(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// ArticleSanitizeMiddleware strips markup from article text fields.
// Paragraph breaks in the body are kept.
type ArticleSanitizeMiddleware struct{}

func (m *ArticleSanitizeMiddleware) Name() string { return "article_sanitize" }

func (m *ArticleSanitizeMiddleware) Process(item *model.NewsItem) (*model.NewsItem, error) {
	a := &item.ArticleData
	a.Title = sanitizeText(a.Title)

	paragraphs := strings.Split(a.ContentBody, "\n\n")
	kept := paragraphs[:0]
	for _, p := range paragraphs {
		if p = sanitizeText(p); p != "" {
			kept = append(kept, p)
		}
	}
	a.ContentBody = strings.Join(kept, "\n\n")

	if a.Author != nil {
		if s := sanitizeText(*a.Author); s != "" {
			a.Author = &s
		} else {
			a.Author = nil
		}
	}

	comments := a.Comments[:0]
	for _, c := range a.Comments {
		if c = sanitizeText(c); c != "" {
			comments = append(comments, c)
		}
	}
	a.Comments = comments
	if a.ImageURLs == nil {
		a.ImageURLs = []string{}
	}
	return item, nil
}

// RequiredArticleFieldsMiddleware drops items without a source URL, a title,
// or a publication time.
type RequiredArticleFieldsMiddleware struct{}

func (m *RequiredArticleFieldsMiddleware) Name() string { return "required_fields" }

func (m *RequiredArticleFieldsMiddleware) Process(item *model.NewsItem) (*model.NewsItem, error) {
	if item.SourceURL == "" || item.ArticleData.Title == "" || item.ArticleData.PublishedAt.IsZero() {
		return nil, nil
	}
	return item, nil
}

// PublishedUntilMiddleware keeps items published at or before Until.
type PublishedUntilMiddleware struct {
	Until time.Time
}

func (m *PublishedUntilMiddleware) Name() string { return "published_until" }

func (m *PublishedUntilMiddleware) Process(item *model.NewsItem) (*model.NewsItem, error) {
	if item.ArticleData.PublishedAt.After(m.Until) {
		return nil, nil
	}
	return item, nil
}

// NewsPipeline builds the record pipeline applied to freshly scraped articles.
func NewsPipeline(p *Pipeline[model.NewsItem], domain string, until time.Time) *Pipeline[model.NewsItem] {
	return p.
		Use(&SourceDomainMiddleware{Domain: domain}).
		Use(&ArticleSanitizeMiddleware{}).
		Use(&RequiredArticleFieldsMiddleware{}).
		Use(NewDedupMiddleware(func(item *model.NewsItem) string { return item.SourceURL })).
		Use(&PublishedUntilMiddleware{Until: until})
}

// --- Offer Middleware ---

// OfferNormalizeMiddleware trims offer text and defaults original_url to the link. A
// negative price is clamped to 0 and marked unreadable.
type OfferNormalizeMiddleware struct{}

func (m *OfferNormalizeMiddleware) Name() string { return "offer_normalize" }

func (m *OfferNormalizeMiddleware) Process(o *model.Offer) (*model.Offer, error) {
	o.Shop = strings.TrimSpace(o.Shop)
	o.Title = strings.Join(strings.Fields(o.Title), " ")
	o.URL = strings.TrimSpace(o.URL)
	if o.OriginalURL = strings.TrimSpace(o.OriginalURL); o.OriginalURL == "" {
		o.OriginalURL = o.URL
	}
	if o.Price < 0 {
		o.Price = 0
		o.PriceUnreadable = true
	}
	return o, nil
}

// OfferPipeline builds the record pipeline applied to extracted offers.
func OfferPipeline(p *Pipeline[model.Offer]) *Pipeline[model.Offer] {
	return p.
		Use(&OfferNormalizeMiddleware{}).
		Use(&FilterMiddleware[model.Offer]{
			Label: "offer_link",
			Keep:  func(o *model.Offer) bool { return o.URL != "" && o.Shop != "" },
		}).
		Use(NewDedupMiddleware(func(o *model.Offer) string { return o.URL }))
}

// SourceDomainMiddleware fills the item's source domain from its URL when unset.
type SourceDomainMiddleware struct {
	Domain string
}

func (m *SourceDomainMiddleware) Name() string { return "source_domain" }

func (m *SourceDomainMiddleware) Process(item *model.NewsItem) (*model.NewsItem, error) {
	if item.SourceDomain == "" {
		item.SourceDomain = m.Domain
	}
	if item.SourceDomain == "" {
		item.SourceDomain = types.Domain(item.SourceURL)
	}
	return item, nil
}
