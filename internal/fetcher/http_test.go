package fetcher

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/hotline-scraper/internal/config"
	"github.com/IshaanNene/hotline-scraper/internal/observability"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

func TestHTTPFetcherDecodesBrotli(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		_, _ = bw.Write([]byte("<html><body>новини</body></html>"))
		_ = bw.Close()

		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := NewHTTPFetcher(config.DefaultConfig(), testLogger)
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html><body>новини</body></html>", page.HTML)
	assert.Equal(t, http.StatusOK, page.StatusCode)
}

func TestHTTPFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(config.DefaultConfig(), testLogger)
	_, err := f.Fetch(context.Background(), srv.URL)

	var fe *types.FetchError
	require.True(t, errors.As(err, &fe), "expected FetchError, got %v", err)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.False(t, types.IsTimeout(err))
}

func TestAcquireHTTPTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	metrics := observability.NewMetrics(testLogger)
	acq := NewAcquirer(30*time.Second, metrics, testLogger, NewHTTPFetcher(config.DefaultConfig(), testLogger))

	_, err := acq.Acquire(context.Background(), srv.URL, ModeHTTP, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, types.IsTimeout(err), "expected timeout, got %v", err)
	assert.Equal(t, int64(1), metrics.FetchTimeouts.Load())
}

func TestAcquireUnknownMode(t *testing.T) {
	acq := NewAcquirer(time.Second, observability.NewMetrics(testLogger), testLogger)
	_, err := acq.Acquire(context.Background(), "https://hotline.ua", ModeBrowser, 0)
	assert.ErrorIs(t, err, ErrNoFetcher)
}

func TestRedirectResolverFollowsChain(t *testing.T) {
	shop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer shop.Close()

	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, shop.URL+"/product/42", http.StatusFound)
	}))
	defer hop.Close()

	r := NewRedirectResolver(config.DefaultConfig(), testLogger)
	final, err := r.Resolve(context.Background(), hop.URL+"/go/price/1/")
	require.NoError(t, err)
	assert.Equal(t, shop.URL+"/product/42", final)
}

func TestRedirectResolverFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	r := NewRedirectResolver(config.DefaultConfig(), testLogger)
	_, err := r.Resolve(context.Background(), url)

	var re *types.ResolutionError
	assert.True(t, errors.As(err, &re), "expected ResolutionError, got %v", err)
}

func TestHTTPFetcherKeepsCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/news/" {
			http.SetCookie(w, &http.Cookie{Name: "consent", Value: "1", Path: "/"})
			_, _ = w.Write([]byte("<html>listing</html>"))
			return
		}
		c, err := r.Cookie("consent")
		if err != nil || c.Value != "1" {
			http.Error(w, "no consent", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("<html>article</html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(config.DefaultConfig(), testLogger)
	_, err := f.Fetch(context.Background(), srv.URL+"/news/")
	require.NoError(t, err)

	page, err := f.Fetch(context.Background(), srv.URL+"/news/1")
	require.NoError(t, err)
	assert.Equal(t, "<html>article</html>", page.HTML)
}
