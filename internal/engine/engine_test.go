package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/hotline-scraper/internal/config"
	"github.com/IshaanNene/hotline-scraper/internal/fetcher"
	"github.com/IshaanNene/hotline-scraper/internal/observability"
	"github.com/IshaanNene/hotline-scraper/internal/parser"
	"github.com/IshaanNene/hotline-scraper/internal/repository"
	"github.com/IshaanNene/hotline-scraper/internal/storage"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const productURL = "https://hotline.ua/bt-vyazalnye-mashiny/silver-reed-sk840srp60n"

// fakeAcquirer serves canned pages by URL.
type fakeAcquirer struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls map[string]int
	gate  chan struct{} // when set, every call waits for it to close
	total atomic.Int32
}

func newFakeAcquirer() *fakeAcquirer {
	return &fakeAcquirer{
		pages: map[string]string{},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (a *fakeAcquirer) Acquire(ctx context.Context, rawURL string, _ fetcher.Mode, _ time.Duration) (string, error) {
	a.total.Add(1)
	a.mu.Lock()
	a.calls[rawURL]++
	gate := a.gate
	page, ok := a.pages[rawURL]
	err := a.errs[rawURL]
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &types.FetchError{URL: rawURL, StatusCode: 404, Err: errors.New("not found")}
	}
	return page, nil
}

func (a *fakeAcquirer) callsFor(rawURL string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[rawURL]
}

// failingCollection fails every write.
type failingCollection struct {
	storage.Collection
}

func (c failingCollection) UpdateOne(context.Context, storage.Filter, storage.Update, bool) (storage.UpdateResult, error) {
	return storage.UpdateResult{}, errors.New("write refused")
}

func (c failingCollection) InsertMany(context.Context, []any) ([]string, error) {
	return nil, errors.New("write refused")
}

type harness struct {
	svc      *Service
	acq      *fakeAcquirer
	products *repository.ProductRepository
	news     *repository.NewsRepository
	metrics  *observability.Metrics
	now      time.Time
}

func newHarness(t *testing.T, wrap func(storage.Collection) storage.Collection) *harness {
	t.Helper()
	if wrap == nil {
		wrap = func(c storage.Collection) storage.Collection { return c }
	}

	cfg := config.DefaultConfig()
	cfg.Fetcher.ArticleConcurrency = 2
	store := storage.NewMemoryStore(testLogger)
	products := repository.NewProductRepository(wrap(store.Collection("products")), testLogger)
	news := repository.NewNewsRepository(wrap(store.Collection("news")), testLogger)
	require.NoError(t, products.EnsureIndexes(context.Background()))
	require.NoError(t, news.EnsureIndexes(context.Background()))

	h := &harness{
		acq:      newFakeAcquirer(),
		products: products,
		news:     news,
		metrics:  observability.NewMetrics(testLogger),
		now:      time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC),
	}
	h.svc = NewService(cfg, parser.NewRegistry(nil, 1, testLogger), h.acq, products, news, h.metrics, testLogger)
	h.svc.SetClock(func() time.Time { return h.now })
	return h
}

func offersPage(prices ...int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="productOffersListContainer"><div class="header"></div><div class="list">`)
	for i, p := range prices {
		fmt.Fprintf(&b, `<div class="list__item"><a class="shop__title" href="/go/price/%d/">Shop %d</a>`+
			`<div class="html-clamp"><span>Silver Reed SK840</span></div><span class="price__value">%d</span></div>`, i+1, i+1, p)
	}
	b.WriteString(`</div></div></body></html>`)
	return b.String()
}

func prices(result *ProductResult) []float64 {
	out := make([]float64, len(result.Offers))
	for i, o := range result.Offers {
		out[i] = o.Price
	}
	return out
}

func TestGetProductLiveThenCached(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.acq.pages[productURL] = offersPage(50, 10, 30)

	res, err := h.svc.GetProduct(ctx, ProductQuery{URL: productURL, PriceSort: "asc", CountLimit: 2})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, []float64{10, 30}, prices(res))
	assert.Equal(t, productURL, res.URL)

	stored, err := h.products.GetByURL(ctx, productURL)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Offers, 3, "storage keeps every offer")

	h.now = h.now.Add(10 * time.Minute)
	res, err = h.svc.GetProduct(ctx, ProductQuery{URL: productURL, PriceSort: "desc"})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, []float64{50, 30, 10}, prices(res))
	assert.Equal(t, 1, h.acq.callsFor(productURL))

	snap := h.metrics.Snapshot()
	assert.Equal(t, int64(1), snap["cache_hits"])
	assert.Equal(t, int64(1), snap["cache_misses"])
}

func TestGetProductStaleRefetches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.acq.pages[productURL] = offersPage(100)

	first, err := h.svc.GetProduct(ctx, ProductQuery{URL: productURL})
	require.NoError(t, err)
	assert.True(t, first.UpdatedAt.Equal(h.now), "updated_at comes from the shared clock")

	stored, err := h.products.GetByURL(ctx, productURL)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.UpdatedAt.Equal(first.UpdatedAt))

	h.now = h.now.Add(40 * time.Minute)
	h.acq.pages[productURL] = offersPage(90, 80)
	res, err := h.svc.GetProduct(ctx, ProductQuery{URL: productURL})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, []float64{90, 80}, prices(res), "extraction order without a sort")
	assert.Equal(t, 2, h.acq.callsFor(productURL))
	assert.True(t, res.UpdatedAt.Equal(h.now))
}

func TestGetProductUnsupported(t *testing.T) {
	h := newHarness(t, nil)

	for _, u := range []string{"https://unknown.example/p/1", "https://www.pravda.com.ua/news/"} {
		_, err := h.svc.GetProduct(context.Background(), ProductQuery{URL: u})
		var pe *types.ParsingError
		require.ErrorAs(t, err, &pe, u)
		assert.ErrorIs(t, err, types.ErrUnsupportedSource, u)
	}
	assert.Equal(t, int32(0), h.acq.total.Load())
}

func TestGetProductTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.acq.errs[productURL] = &types.TimeoutError{URL: productURL, Timeout: time.Second, Err: context.DeadlineExceeded}

	_, err := h.svc.GetProduct(ctx, ProductQuery{URL: productURL, Timeout: time.Second})
	assert.True(t, types.IsTimeout(err))

	ok, err := h.products.Exists(ctx, productURL)
	require.NoError(t, err)
	assert.False(t, ok, "nothing is cached on failure")
}

func TestGetProductCoalescesMisses(t *testing.T) {
	h := newHarness(t, nil)
	h.acq.pages[productURL] = offersPage(10, 20)
	h.acq.gate = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*ProductResult, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.svc.GetProduct(context.Background(), ProductQuery{URL: productURL})
			if err == nil {
				results[i] = res
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(h.acq.gate)
	wg.Wait()

	// Late callers either share the flight or hit the fresh cache entry.
	assert.Equal(t, 1, h.acq.callsFor(productURL))
	for _, res := range results {
		require.NotNil(t, res)
		assert.Len(t, res.Offers, 2)
	}
}

func TestGetProductPersistenceFailureStillServes(t *testing.T) {
	h := newHarness(t, func(c storage.Collection) storage.Collection { return failingCollection{c} })
	h.acq.pages[productURL] = offersPage(10)

	res, err := h.svc.GetProduct(context.Background(), ProductQuery{URL: productURL})
	require.NoError(t, err)
	assert.Len(t, res.Offers, 1)
	assert.Equal(t, int64(1), h.metrics.Snapshot()["persistence_failures"])

	_, err = h.svc.RunSource(context.Background(), parser.KindProducts, productURL)
	var pe *types.PersistenceError
	assert.ErrorAs(t, err, &pe, "scheduled runs report persistence errors")
}

const listingURL = "https://www.pravda.com.ua/news/"

const newsListing = `<html><body><div class="container_sub_news_list_wrapper">
<div class="article_news_list"><div class="article_title"><a href="/news/2024/03/05/1/">Перша</a></div></div>
<div class="article_news_list"><div class="article_title"><a href="/news/2024/03/05/2/">Друга</a></div></div>
<div class="article_news_list"><div class="article_title"><a href="/news/2024/03/05/3/">Третя</a></div></div>
<div class="article_news_list"><div class="article_title"><a href="/news/2024/03/05/4/">Четверта</a></div></div>
</div></body></html>`

func newsArticle(title, published string) string {
	return `<html><body><h1 class="post_title">` + title + `</h1>` +
		`<div class="post_time">` + published + `</div>` +
		`<div class="post_text"><p>Текст <b>статті</b>.</p></div></body></html>`
}

func seedNews(h *harness) {
	h.acq.pages[listingURL] = newsListing
	h.acq.pages["https://www.pravda.com.ua/news/2024/03/05/1/"] = newsArticle("Перша", "2024-03-05T09:00:00Z")
	h.acq.pages["https://www.pravda.com.ua/news/2024/03/05/2/"] = newsArticle("Друга", "2024-03-05T11:00:00Z")
	h.acq.pages["https://www.pravda.com.ua/news/2024/03/05/3/"] = newsArticle("Третя", "2024-03-05T15:00:00Z")
	// article 4 is missing and fails with a fetch error
}

func TestGetNewsLiveThenCached(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	seedNews(h)
	until := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	res, err := h.svc.GetNews(ctx, NewsQuery{URL: listingURL, Until: until, Mode: fetcher.ModeHTTP})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	require.Len(t, res.Items, 2, "article after until and failed article are dropped")
	assert.Equal(t, "Друга", res.Items[0].ArticleData.Title, "newest first")
	assert.Equal(t, "Перша", res.Items[1].ArticleData.Title)
	assert.Equal(t, "Текст статті.", res.Items[0].ArticleData.ContentBody)
	assert.Equal(t, "pravda.com.ua", res.Items[0].SourceDomain)
	assert.Equal(t, int64(2), h.metrics.Snapshot()["records_skipped"], "one fetch failure plus one window drop")

	listingCalls := h.acq.callsFor(listingURL)
	res, err = h.svc.GetNews(ctx, NewsQuery{URL: listingURL, Until: until})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, listingCalls, h.acq.callsFor(listingURL), "cache hit does not fetch")
}

func TestGetNewsListingFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.acq.errs[listingURL] = &types.TimeoutError{URL: listingURL, Timeout: time.Second, Err: context.DeadlineExceeded}

	_, err := h.svc.GetNews(context.Background(), NewsQuery{URL: listingURL, Until: h.now})
	assert.True(t, types.IsTimeout(err))

	_, err = h.svc.GetNews(context.Background(), NewsQuery{URL: productURL, Until: h.now})
	assert.ErrorIs(t, err, types.ErrUnsupportedSource)
}

func TestRunSourceNews(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	seedNews(h)
	h.now = time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)

	n, err := h.svc.RunSource(ctx, parser.KindNews, listingURL)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = h.svc.RunSource(ctx, parser.KindNews, listingURL)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already stored articles are not inserted again")

	_, err = h.svc.RunSource(ctx, parser.Kind("weather"), listingURL)
	assert.Error(t, err)
}

func TestRunSourceNewsPersistenceError(t *testing.T) {
	h := newHarness(t, func(c storage.Collection) storage.Collection { return failingCollection{c} })
	seedNews(h)

	_, err := h.svc.RunSource(context.Background(), parser.KindNews, listingURL)
	var pe *types.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "news", pe.Collection)

	// The query path still returns the scraped items.
	res, err := h.svc.GetNews(context.Background(), NewsQuery{URL: listingURL, Until: h.now})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
}

func TestScrapeProductDoesNotCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.acq.pages[productURL] = offersPage(5, 6)

	offers, err := h.svc.ScrapeProduct(ctx, productURL, fetcher.ModeHTTP, 0)
	require.NoError(t, err)
	assert.Len(t, offers, 2)

	ok, err := h.products.Exists(ctx, productURL)
	require.NoError(t, err)
	assert.False(t, ok)
}
