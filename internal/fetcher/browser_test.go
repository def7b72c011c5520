package fetcher

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

	"github.com/IshaanNene/hotline-scraper/internal/config"
	"github.com/IshaanNene/hotline-scraper/internal/observability"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// fakeContext scripts page heights and records scroll positions.
type fakeContext struct {
	mu          sync.Mutex
	heights     []float64 // successive scrollHeight answers; the last one repeats
	grow        float64   // if set, every answer grows by this much
	viewport    float64
	hangNav     bool
	navErr      error
	html        string
	scrolledTo  []int64
	heightCalls int
	closed      atomic.Bool
}

func (c *fakeContext) Navigate(ctx context.Context, rawURL string) error {
	if c.hangNav {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.navErr
}

func (c *fakeContext) Eval(ctx context.Context, js string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case js == jsScrollHeight:
		if c.grow > 0 {
			c.heightCalls++
			return float64(c.heightCalls) * c.grow, nil
		}
		idx := c.heightCalls
		if idx >= len(c.heights) {
			idx = len(c.heights) - 1
		}
		c.heightCalls++
		return c.heights[idx], nil
	case js == jsViewportHeight:
		return c.viewport, nil
	case strings.HasPrefix(js, "() => window.scrollTo"):
		var pos int64
		fmt.Sscanf(js, "() => window.scrollTo(0, %d)", &pos)
		c.scrolledTo = append(c.scrolledTo, pos)
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected js %q", js)
}

func (c *fakeContext) HTML(ctx context.Context) (string, error) { return c.html, nil }

func (c *fakeContext) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeSession struct {
	newCtx   func() *fakeContext
	contexts []*fakeContext
	closed   atomic.Bool
	mu       sync.Mutex
}

func (s *fakeSession) NewContext(ctx context.Context) (browsingContext, error) {
	c := s.newCtx()
	s.mu.Lock()
	s.contexts = append(s.contexts, c)
	s.mu.Unlock()
	return c, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func newTestBrowser(t *testing.T, session *fakeSession, launches *atomic.Int32) *BrowserFetcher {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Browser.ScrollPause = time.Millisecond
	return NewBrowserFetcher(cfg, testLogger, withLauncher(func(ctx context.Context) (browserSession, error) {
		if launches != nil {
			launches.Add(1)
		}
		return session, nil
	}))
}

func TestBrowserFetchScrollsUntilHeightStable(t *testing.T) {
	fc := &fakeContext{heights: []float64{1000, 1500, 1500}, viewport: 500, html: "<html>ok</html>"}
	session := &fakeSession{newCtx: func() *fakeContext { return fc }}
	bf := newTestBrowser(t, session, nil)

	page, err := bf.Fetch(context.Background(), "https://hotline.ua/x")
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if page.HTML != "<html>ok</html>" {
		t.Errorf("unexpected html %q", page.HTML)
	}

	want := []int64{500, 1000, 1500}
	if fmt.Sprint(fc.scrolledTo) != fmt.Sprint(want) {
		t.Errorf("scroll positions = %v, want %v", fc.scrolledTo, want)
	}
	if !fc.closed.Load() {
		t.Error("browsing context should be closed after fetch")
	}
	if bf.OpenContexts() != 0 {
		t.Errorf("expected 0 open contexts, got %d", bf.OpenContexts())
	}
}

func TestBrowserFetchZeroViewportUsesFallbackStep(t *testing.T) {
	fc := &fakeContext{heights: []float64{1600}, viewport: 0}
	session := &fakeSession{newCtx: func() *fakeContext { return fc }}
	bf := newTestBrowser(t, session, nil)

	if _, err := bf.Fetch(context.Background(), "https://hotline.ua/x"); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if fmt.Sprint(fc.scrolledTo) != "[800 1600]" {
		t.Errorf("expected fallback steps of 800, got %v", fc.scrolledTo)
	}
}

func TestAcquireTimeoutReleasesContext(t *testing.T) {
	session := &fakeSession{newCtx: func() *fakeContext { return &fakeContext{hangNav: true} }}
	bf := newTestBrowser(t, session, nil)
	acq := NewAcquirer(30*time.Second, observability.NewMetrics(testLogger), testLogger, bf)

	baseline := bf.OpenContexts()
	start := time.Now()
	_, err := acq.Acquire(context.Background(), "https://hotline.ua/never", ModeBrowser, 1*time.Second)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("acquire took %s, deadline not enforced", elapsed)
	}

	var te *types.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}
	if te.Timeout != time.Second {
		t.Errorf("expected reported timeout 1s, got %s", te.Timeout)
	}
	if got := bf.OpenContexts(); got != baseline {
		t.Errorf("open contexts = %d, want baseline %d", got, baseline)
	}
	if !session.contexts[0].closed.Load() {
		t.Error("timed-out browsing context was not closed")
	}
}

func TestScrollLoopBoundedByDeadline(t *testing.T) {
	session := &fakeSession{newCtx: func() *fakeContext { return &fakeContext{grow: 1000, viewport: 500} }}
	bf := newTestBrowser(t, session, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := bf.Fetch(ctx, "https://hotline.ua/infinite")
	if !types.IsTimeout(err) {
		t.Fatalf("expected timeout for endlessly growing page, got %v", err)
	}
	if bf.OpenContexts() != 0 {
		t.Errorf("context leaked: %d open", bf.OpenContexts())
	}
}

func TestNavigationFailureIsFetchError(t *testing.T) {
	session := &fakeSession{newCtx: func() *fakeContext { return &fakeContext{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")} }}
	bf := newTestBrowser(t, session, nil)

	_, err := bf.Fetch(context.Background(), "https://nowhere.invalid")
	var fe *types.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %T: %v", err, err)
	}
	if bf.OpenContexts() != 0 {
		t.Error("context leaked after navigation error")
	}
}

func TestConcurrentFetchesShareOneSession(t *testing.T) {
	session := &fakeSession{newCtx: func() *fakeContext {
		return &fakeContext{heights: []float64{100}, viewport: 100}
	}}
	var launches atomic.Int32
	bf := newTestBrowser(t, session, &launches)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := bf.Fetch(context.Background(), "https://hotline.ua/x"); err != nil {
				t.Errorf("fetch error: %v", err)
			}
		}()
	}
	wg.Wait()

	if launches.Load() != 1 {
		t.Errorf("expected a single browser launch, got %d", launches.Load())
	}
	if len(session.contexts) != 8 {
		t.Errorf("expected one isolated context per fetch, got %d", len(session.contexts))
	}
	for i, c := range session.contexts {
		if !c.closed.Load() {
			t.Errorf("context %d not closed", i)
		}
	}

	if err := bf.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if !session.closed.Load() {
		t.Error("session should be closed")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeHTTP {
		t.Errorf("empty mode should default to http, got %q %v", m, err)
	}
	if m, err := ParseMode("browser"); err != nil || m != ModeBrowser {
		t.Errorf("expected browser, got %q %v", m, err)
	}
	if _, err := ParseMode("curl"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
