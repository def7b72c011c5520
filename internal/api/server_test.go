package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/hotline-scraper/internal/config"
	"github.com/IshaanNene/hotline-scraper/internal/engine"
	"github.com/IshaanNene/hotline-scraper/internal/fetcher"
	"github.com/IshaanNene/hotline-scraper/internal/model"
	"github.com/IshaanNene/hotline-scraper/internal/observability"
	"github.com/IshaanNene/hotline-scraper/internal/parser"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const productURL = "https://hotline.ua/bt-vyazalnye-mashiny/silver-reed-sk840srp60n"

type fakeScraper struct {
	productErr error
	newsErr    error
	lastProd   engine.ProductQuery
	lastNews   engine.NewsQuery
}

func (f *fakeScraper) GetProduct(_ context.Context, q engine.ProductQuery) (*engine.ProductResult, error) {
	f.lastProd = q
	if f.productErr != nil {
		return nil, f.productErr
	}
	offers := model.SortOffers([]model.Offer{{Shop: "a", Price: 50}, {Shop: "b", Price: 10}, {Shop: "c", Price: 30}}, q.PriceSort, q.CountLimit)
	return &engine.ProductResult{URL: q.URL, Offers: offers, UpdatedAt: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeScraper) GetNews(_ context.Context, q engine.NewsQuery) (*engine.NewsResult, error) {
	f.lastNews = q
	if f.newsErr != nil {
		return nil, f.newsErr
	}
	return &engine.NewsResult{
		Items:     []model.NewsItem{{SourceURL: "https://www.pravda.com.ua/news/1", ArticleData: model.ArticleData{Title: "t"}}},
		FromCache: true,
	}, nil
}

type fakeScheduler struct {
	result engine.RunResult
}

func (f *fakeScheduler) ForceRun(kind parser.Kind) (engine.RunResult, error) {
	if kind != parser.KindProducts && kind != parser.KindNews {
		return engine.Rejected, engine.ErrUnknownKind
	}
	return f.result, nil
}

func (f *fakeScheduler) Status() engine.Status {
	return engine.Status{Running: true, Interval: "30m0s", Kinds: []engine.KindStatus{{Kind: parser.KindNews, State: engine.StateRunning}}}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *fakeScraper, *fakeScheduler) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.APIKeys = []string{"test-key-1", "test-key-2"}
	cfg.Server.RateLimit = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	if mutate != nil {
		mutate(cfg)
	}
	scraper := &fakeScraper{}
	sched := &fakeScheduler{result: engine.Accepted}
	return NewServer(cfg, scraper, sched, observability.NewMetrics(testLogger), testLogger), scraper, sched
}

func do(t *testing.T, s *Server, method, target, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, config.Version, body["version"])

	rec = do(t, s, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hotline_")
}

func TestAuthRequired(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	target := "/products?url=" + productURL

	rec := do(t, s, http.MethodPost, target, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid API Key", errorBody(t, rec))

	rec = do(t, s, http.MethodPost, target, "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodPost, target, "test-key-2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProductsQueryParams(t *testing.T) {
	s, scraper, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/products?url="+productURL+"&price_sort=asc&count_limit=2&timeout_limit=5", "test-key-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res engine.ProductResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Offers, 2)
	assert.Equal(t, 10.0, res.Offers[0].Price)
	assert.Equal(t, 30.0, res.Offers[1].Price)
	assert.Equal(t, 5*time.Second, scraper.lastProd.Timeout)
	assert.Equal(t, "asc", scraper.lastProd.PriceSort)
}

func TestProductsJSONBody(t *testing.T) {
	s, scraper, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/products", "test-key-1", `{"url":"`+productURL+`","price_sort":"DESC","count_limit":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "desc", scraper.lastProd.PriceSort)
	assert.Equal(t, 1, scraper.lastProd.CountLimit)

	rec = do(t, s, http.MethodPost, "/products", "test-key-1", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductsValidation(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	cases := []string{
		"/products",
		"/products?url=ftp://hotline.ua/x",
		"/products?url=" + productURL + "&count_limit=0",
		"/products?url=" + productURL + "&count_limit=101",
		"/products?url=" + productURL + "&count_limit=many",
		"/products?url=" + productURL + "&timeout_limit=31",
		"/products?url=" + productURL + "&price_sort=random",
	}
	for _, target := range cases {
		rec := do(t, s, http.MethodPost, target, "test-key-1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.NotEmpty(t, errorBody(t, rec), target)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&types.TimeoutError{URL: productURL, Timeout: time.Second, Err: context.DeadlineExceeded}, http.StatusRequestTimeout},
		{&types.ParsingError{URL: "https://unknown.example", Err: fmt.Errorf("%w: unknown.example", types.ErrUnsupportedSource)}, http.StatusInternalServerError},
		{&types.ParsingError{URL: productURL, Source: "hotline", Err: types.ErrContainerNotFound}, http.StatusInternalServerError},
		{&types.FetchError{URL: productURL, StatusCode: 503, Err: errors.New("unavailable")}, http.StatusBadGateway},
		{fmt.Errorf("scrape: %w", &types.FetchError{URL: productURL, Err: errors.New("reset")}), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s, scraper, _ := newTestServer(t, nil)
		scraper.productErr = tc.err

		rec := do(t, s, http.MethodPost, "/products?url="+productURL, "test-key-1", "")
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
		assert.Equal(t, tc.err.Error(), errorBody(t, rec))
	}
}

func TestNews(t *testing.T) {
	s, scraper, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/news?url=https://www.pravda.com.ua/news/&until_date=2024-03-05&client=browser", "test-key-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), scraper.lastNews.Until)
	assert.Equal(t, fetcher.ModeBrowser, scraper.lastNews.Mode)

	var body struct {
		Items     []model.NewsItem `json:"items"`
		FromCache bool             `json:"from_cache"`
		Source    string           `json:"source"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.FromCache)
	assert.Len(t, body.Items, 1)
	assert.Equal(t, "https://www.pravda.com.ua/news/", body.Source)

	rec = do(t, s, http.MethodPost, "/news", "test-key-1", `{"url":"https://epravda.com.ua/news/","until_date":"2024-03-05T10:00:00+02:00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC), scraper.lastNews.Until)
	assert.Equal(t, fetcher.ModeHTTP, scraper.lastNews.Mode)

	for _, target := range []string{
		"/news?url=https://www.pravda.com.ua/news/",
		"/news?url=https://www.pravda.com.ua/news/&until_date=yesterday",
		"/news?url=https://www.pravda.com.ua/news/&until_date=2024-03-05&client=curl",
		"/news?until_date=2024-03-05",
	} {
		rec := do(t, s, http.MethodPost, target, "test-key-1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestAdminRoutes(t *testing.T) {
	s, _, sched := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/admin/parse/products", "test-key-1", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	sched.result = engine.Rejected
	rec = do(t, s, http.MethodPost, "/admin/parse/news", "test-key-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/admin/parse/weather", "test-key-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/admin/parse/news", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/admin/scheduler/status", "test-key-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"running"`)
	assert.Contains(t, rec.Body.String(), `"running":true`)
}

func TestRateLimitPerKey(t *testing.T) {
	s, _, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = 0.001
		cfg.Server.RateBurst = 2
	})
	target := "/products?url=" + productURL

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, target, "test-key-1", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, target, "test-key-1", "").Code)
	rec := do(t, s, http.MethodPost, target, "test-key-1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Buckets are per key.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, target, "test-key-2", "").Code)
}

func TestParseUntil(t *testing.T) {
	got, err := ParseUntil("2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseUntil("2024-03-05T12:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 12, 30, 0, 0, time.UTC), got)

	_, err = ParseUntil("05.03.2024")
	assert.Error(t, err)
}
