// Package engine ties fetching, extraction, the record pipeline and the
// caches together. Service answers product and news queries; Scheduler
// refreshes the configured sources periodically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/IshaanNene/hotline-scraper/internal/config"
	"github.com/IshaanNene/hotline-scraper/internal/fetcher"
	"github.com/IshaanNene/hotline-scraper/internal/model"
	"github.com/IshaanNene/hotline-scraper/internal/observability"
	"github.com/IshaanNene/hotline-scraper/internal/parser"
	"github.com/IshaanNene/hotline-scraper/internal/pipeline"
	"github.com/IshaanNene/hotline-scraper/internal/repository"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

// PageAcquirer returns the markup of a URL in the given mode.
type PageAcquirer interface {
	Acquire(ctx context.Context, rawURL string, mode fetcher.Mode, timeout time.Duration) (string, error)
}

// ProductQuery selects a product and shapes the returned offer list.
type ProductQuery struct {
	URL        string
	Timeout    time.Duration // 0 uses fetcher.request_timeout
	CountLimit int           // 0 means all offers
	PriceSort  string        // "", asc or desc
}

// ProductResult is the answer to a ProductQuery.
type ProductResult struct {
	URL       string        `json:"url"`
	Offers    []model.Offer `json:"offers"`
	FromCache bool          `json:"from_cache"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewsQuery selects articles of one source published at or before Until.
type NewsQuery struct {
	URL   string
	Until time.Time
	Mode  fetcher.Mode
	Limit int // 0 uses cache.news_limit
}

// NewsResult is the answer to a NewsQuery.
type NewsResult struct {
	Items     []model.NewsItem `json:"items"`
	FromCache bool             `json:"from_cache"`
}

// Service serves cached records and falls back to live scraping on a miss.
type Service struct {
	registry *parser.Registry
	acquirer PageAcquirer
	products *repository.ProductRepository
	news     *repository.NewsRepository
	cacheCfg config.CacheConfig
	fetchCfg config.FetcherConfig
	metrics  *observability.Metrics
	logger   *slog.Logger

	// newsMode is the client used by scheduled news runs.
	newsMode fetcher.Mode

	flight singleflight.Group
	now    func() time.Time
}

// NewService creates a Service.
func NewService(
	cfg *config.Config,
	registry *parser.Registry,
	acquirer PageAcquirer,
	products *repository.ProductRepository,
	news *repository.NewsRepository,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Service {
	newsMode, err := fetcher.ParseMode(cfg.Scheduler.NewsClient)
	if err != nil {
		newsMode = fetcher.ModeHTTP
	}
	return &Service{
		registry: registry,
		acquirer: acquirer,
		products: products,
		news:     news,
		cacheCfg: cfg.Cache,
		fetchCfg: cfg.Fetcher,
		metrics:  metrics,
		logger:   logger.With("component", "service"),
		newsMode: newsMode,
		now:      time.Now,
	}
}

// SetClock replaces the clock of the service and of both repositories, so
// freshness checks and stored timestamps agree.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.products.SetClock(now)
	s.news.SetClock(now)
}

type liveProduct struct {
	offers    []model.Offer
	updatedAt time.Time
}

// GetProduct returns the offers of a product, from cache when the cached copy
// is younger than cache.product_max_age. Concurrent misses for the same URL
// share one live fetch.
func (s *Service) GetProduct(ctx context.Context, q ProductQuery) (*ProductResult, error) {
	canonical := types.CanonicalizeURL(q.URL)
	entry, err := s.registry.ResolveKind(canonical, parser.KindProducts)
	if err != nil {
		return nil, err
	}

	cached, err := s.products.GetByURL(ctx, canonical)
	if err != nil {
		s.metrics.PersistenceFailures.Add(1)
		s.logger.Warn("product cache lookup failed, fetching live", "url", canonical, "error", err)
		cached = nil
	}
	if repository.IsFresh(cached, s.cacheCfg.ProductMaxAge, s.now()) {
		s.metrics.CacheHits.Add(1)
		s.logger.Debug("product served from cache", "url", canonical, "updated_at", cached.UpdatedAt)
		return &ProductResult{
			URL:       canonical,
			Offers:    model.SortOffers(cached.Offers, q.PriceSort, q.CountLimit),
			FromCache: true,
			UpdatedAt: cached.UpdatedAt,
		}, nil
	}
	s.metrics.CacheMisses.Add(1)

	// One caller going away must not fail the others waiting on the same key;
	// the acquirer still bounds the fetch with its timeout.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := s.flight.Do(canonical, func() (any, error) {
		offers, err := s.scrapeOffers(flightCtx, entry, canonical, fetcher.ModeBrowser, q.Timeout)
		if err != nil {
			return nil, err
		}
		_, updatedAt, err := s.products.Upsert(flightCtx, canonical, offers)
		if err != nil {
			s.metrics.PersistenceFailures.Add(1)
			s.logger.Error("product upsert failed, returning live data", "url", canonical, "error", err)
			updatedAt = s.now().UTC()
		}
		return &liveProduct{offers: offers, updatedAt: updatedAt}, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("product fetch shared", "url", canonical)
	}

	live := v.(*liveProduct)
	return &ProductResult{
		URL:       canonical,
		Offers:    model.SortOffers(live.offers, q.PriceSort, q.CountLimit),
		FromCache: false,
		UpdatedAt: live.updatedAt,
	}, nil
}

// ScrapeProduct fetches and extracts the offers of a product page without
// touching the cache.
func (s *Service) ScrapeProduct(ctx context.Context, rawURL string, mode fetcher.Mode, timeout time.Duration) ([]model.Offer, error) {
	canonical := types.CanonicalizeURL(rawURL)
	entry, err := s.registry.ResolveKind(canonical, parser.KindProducts)
	if err != nil {
		return nil, err
	}
	return s.scrapeOffers(ctx, entry, canonical, mode, timeout)
}

func (s *Service) scrapeOffers(ctx context.Context, entry parser.Entry, pageURL string, mode fetcher.Mode, timeout time.Duration) ([]model.Offer, error) {
	markup, err := s.acquirer.Acquire(ctx, pageURL, mode, timeout)
	if err != nil {
		return nil, err
	}

	offers, err := entry.Offers.ExtractOffers(ctx, pageURL, markup)
	if err != nil {
		return nil, err
	}

	records := make([]*model.Offer, len(offers))
	for i := range offers {
		records[i] = &offers[i]
	}
	kept, dropped := pipeline.OfferPipeline(pipeline.New[model.Offer](s.logger)).Run(records)
	s.metrics.RecordsSkipped.Add(int64(dropped))

	out := make([]model.Offer, len(kept))
	for i, o := range kept {
		out[i] = *o
	}
	s.metrics.OffersExtracted.Add(int64(len(out)))
	s.logger.Info("offers extracted", "url", pageURL, "source", entry.Source, "offers", len(out), "dropped", dropped)
	return out, nil
}

// GetNews returns articles of the source published at or before q.Until.
// Cached articles of the source domain are served when any match; otherwise
// the source is scraped live and the new articles are stored.
func (s *Service) GetNews(ctx context.Context, q NewsQuery) (*NewsResult, error) {
	entry, err := s.registry.ResolveKind(q.URL, parser.KindNews)
	if err != nil {
		return nil, err
	}
	domain := types.Domain(q.URL)
	limit := q.Limit
	if limit <= 0 {
		limit = s.cacheCfg.NewsLimit
	}

	cached, err := s.news.FindUntil(ctx, domain, q.Until, limit)
	if err != nil {
		s.metrics.PersistenceFailures.Add(1)
		s.logger.Warn("news cache lookup failed, fetching live", "domain", domain, "error", err)
	}
	if len(cached) > 0 {
		s.metrics.CacheHits.Add(1)
		return &NewsResult{Items: cached, FromCache: true}, nil
	}
	s.metrics.CacheMisses.Add(1)

	items, err := s.scrapeNews(ctx, entry, q.URL, q.Until, q.Mode)
	if err != nil {
		return nil, err
	}
	if _, err := s.news.SaveBatch(ctx, items, domain); err != nil {
		s.metrics.PersistenceFailures.Add(1)
		s.logger.Error("news save failed, returning live data", "domain", domain, "error", err)
	}
	if items == nil {
		items = []model.NewsItem{}
	}
	return &NewsResult{Items: items, FromCache: false}, nil
}

// ScrapeNews fetches the listing at listingURL and every linked article,
// without touching the cache.
func (s *Service) ScrapeNews(ctx context.Context, listingURL string, until time.Time, mode fetcher.Mode) ([]model.NewsItem, error) {
	entry, err := s.registry.ResolveKind(listingURL, parser.KindNews)
	if err != nil {
		return nil, err
	}
	return s.scrapeNews(ctx, entry, listingURL, until, mode)
}

func (s *Service) scrapeNews(ctx context.Context, entry parser.Entry, listingURL string, until time.Time, mode fetcher.Mode) ([]model.NewsItem, error) {
	if mode == "" {
		mode = fetcher.ModeHTTP
	}
	base, err := url.Parse(listingURL)
	if err != nil {
		return nil, &types.ParsingError{URL: listingURL, Source: entry.Source.String(), Err: types.ErrInvalidURL}
	}

	markup, err := s.acquirer.Acquire(ctx, listingURL, mode, 0)
	if err != nil {
		return nil, err
	}
	refs, err := entry.News.ExtractListing(markup, base)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("source", entry.Source, "listing", listingURL)
	logger.Debug("listing extracted", "refs", len(refs))

	results := make([]*model.NewsItem, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.fetchCfg.ArticleConcurrency))
	for i, ref := range refs {
		if !ref.PublishedAt.IsZero() && ref.PublishedAt.After(until) {
			continue
		}
		g.Go(func() error {
			item, err := s.scrapeArticle(gctx, entry, ref, mode)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				s.metrics.RecordsSkipped.Add(1)
				logger.Warn("article skipped", "url", ref.URL, "error", err)
				return nil
			}
			results[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scrape %s: %w", listingURL, err)
	}

	records := make([]*model.NewsItem, 0, len(results))
	for _, r := range results {
		if r != nil {
			records = append(records, r)
		}
	}
	kept, dropped := pipeline.NewsPipeline(pipeline.New[model.NewsItem](s.logger), types.Domain(listingURL), until).Run(records)
	s.metrics.RecordsSkipped.Add(int64(dropped))

	items := make([]model.NewsItem, len(kept))
	for i, it := range kept {
		items[i] = *it
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ArticleData.PublishedAt.After(items[j].ArticleData.PublishedAt)
	})

	s.metrics.ArticlesExtracted.Add(int64(len(items)))
	logger.Info("news extracted", "articles", len(items), "refs", len(refs), "dropped", dropped)
	return items, nil
}

func (s *Service) scrapeArticle(ctx context.Context, entry parser.Entry, ref parser.ArticleRef, mode fetcher.Mode) (*model.NewsItem, error) {
	markup, err := s.acquirer.Acquire(ctx, ref.URL, mode, 0)
	if err != nil {
		return nil, err
	}
	data, err := entry.News.ExtractArticle(markup, ref)
	if err != nil {
		return nil, err
	}
	return &model.NewsItem{SourceURL: ref.URL, ArticleData: *data}, nil
}

// RunSource scrapes one source and persists the result. It returns the
// number of records written. Unlike the query paths, persistence errors are
// returned to the caller.
func (s *Service) RunSource(ctx context.Context, kind parser.Kind, rawURL string) (int, error) {
	switch kind {
	case parser.KindProducts:
		canonical := types.CanonicalizeURL(rawURL)
		offers, err := s.ScrapeProduct(ctx, canonical, fetcher.ModeBrowser, 0)
		if err != nil {
			return 0, err
		}
		if _, _, err := s.products.Upsert(ctx, canonical, offers); err != nil {
			s.metrics.PersistenceFailures.Add(1)
			return 0, err
		}
		return len(offers), nil

	case parser.KindNews:
		items, err := s.ScrapeNews(ctx, rawURL, s.now(), s.newsMode)
		if err != nil {
			return 0, err
		}
		ids, err := s.news.SaveBatch(ctx, items, types.Domain(rawURL))
		if err != nil {
			s.metrics.PersistenceFailures.Add(1)
			return 0, err
		}
		return len(ids), nil

	default:
		return 0, fmt.Errorf("unknown source kind %q", kind)
	}
}
