package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/hotline-scraper/internal/config"
)

const (
	jsScrollHeight   = `() => document.body.scrollHeight`
	jsViewportHeight = `() => window.innerHeight`
	jsScrollTo       = `() => window.scrollTo(0, %d)`
)

// browserSession is the shared browser process.
type browserSession interface {
	// NewContext opens an isolated browsing context with one page.
	NewContext(ctx context.Context) (browsingContext, error)
	Close() error
}

// browsingContext is one isolated context (cookies, storage, cache) and its page.
type browsingContext interface {
	Navigate(ctx context.Context, rawURL string) error
	Eval(ctx context.Context, js string) (float64, error)
	HTML(ctx context.Context) (string, error)
	// Close disposes the context. It must work after ctx has expired.
	Close() error
}

type launchFunc func(ctx context.Context) (browserSession, error)

// BrowserFetcher renders pages in a shared headless browser. Each Fetch uses
// its own browsing context, which is always disposed before Fetch returns.
type BrowserFetcher struct {
	cfg            config.BrowserConfig
	defaultTimeout time.Duration
	launch         launchFunc
	logger         *slog.Logger

	// mu guards session start/stop. Fetches hold the read side.
	mu      sync.RWMutex
	session browserSession

	open atomic.Int64
}

// BrowserOption configures the BrowserFetcher.
type BrowserOption func(*BrowserFetcher)

// withLauncher replaces the rod launcher.
func withLauncher(fn launchFunc) BrowserOption {
	return func(bf *BrowserFetcher) { bf.launch = fn }
}

// NewBrowserFetcher creates a browser fetcher. The browser is launched on
// first use or by Start.
func NewBrowserFetcher(cfg *config.Config, logger *slog.Logger, opts ...BrowserOption) *BrowserFetcher {
	bf := &BrowserFetcher{
		cfg:            cfg.Browser,
		defaultTimeout: cfg.Fetcher.RequestTimeout,
		logger:         logger.With("component", "browser_fetcher"),
	}
	bf.launch = rodLauncher(cfg.Browser, bf.logger)

	for _, opt := range opts {
		opt(bf)
	}
	return bf
}

// Start launches the shared browser if it is not running.
func (bf *BrowserFetcher) Start(ctx context.Context) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.session != nil {
		return nil
	}
	session, err := bf.launch(ctx)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	bf.session = session

	bf.logger.Info("browser started", "headless", bf.cfg.Headless, "stealth", bf.cfg.Stealth)
	return nil
}

// Fetch navigates to rawURL in a fresh context, scrolls to trigger lazy
// loading, and returns the rendered markup.
func (bf *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if _, ok := ctx.Deadline(); !ok && bf.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bf.defaultTimeout)
		defer cancel()
	}
	budget := deadlineBudget(ctx, bf.defaultTimeout)
	start := time.Now()

	session, release, err := bf.acquireSession(ctx)
	if err != nil {
		return nil, classifyError(ctx, rawURL, budget, err)
	}
	defer release()

	bc, err := session.NewContext(ctx)
	if err != nil {
		return nil, classifyError(ctx, rawURL, budget, fmt.Errorf("open browsing context: %w", err))
	}
	bf.open.Add(1)
	defer func() {
		if cerr := bc.Close(); cerr != nil {
			bf.logger.Warn("close browsing context", "url", rawURL, "error", cerr)
		}
		bf.open.Add(-1)
	}()

	if err := bc.Navigate(ctx, rawURL); err != nil {
		return nil, classifyError(ctx, rawURL, budget, fmt.Errorf("navigate: %w", err))
	}
	if err := bf.scroll(ctx, bc); err != nil {
		return nil, classifyError(ctx, rawURL, budget, fmt.Errorf("scroll: %w", err))
	}
	html, err := bc.HTML(ctx)
	if err != nil {
		return nil, classifyError(ctx, rawURL, budget, fmt.Errorf("read html: %w", err))
	}

	duration := time.Since(start)
	bf.logger.Debug("browser fetch complete", "url", rawURL, "size", len(html), "duration", duration)

	return &Page{
		URL:        rawURL,
		FinalURL:   rawURL,
		StatusCode: 200, // rod does not expose the document status
		HTML:       html,
		Duration:   duration,
	}, nil
}

// acquireSession returns the running session under the read lock, starting
// the browser first if needed. release must be called when done.
func (bf *BrowserFetcher) acquireSession(ctx context.Context) (browserSession, func(), error) {
	for attempt := 0; attempt < 2; attempt++ {
		bf.mu.RLock()
		if bf.session != nil {
			return bf.session, bf.mu.RUnlock, nil
		}
		bf.mu.RUnlock()

		if err := bf.Start(ctx); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, errors.New("browser closed during start")
}

// scroll advances one viewport at a time until the scroll position reaches
// the page height, re-reading the height after each pause. The loop ends
// when ctx expires if the page keeps growing.
func (bf *BrowserFetcher) scroll(ctx context.Context, bc browsingContext) error {
	total, err := bc.Eval(ctx, jsScrollHeight)
	if err != nil {
		return err
	}
	step, err := bc.Eval(ctx, jsViewportHeight)
	if err != nil {
		return err
	}
	if step <= 0 {
		step = float64(bf.cfg.ViewportStep)
	}

	for pos := 0.0; pos < total; {
		pos += step
		if _, err := bc.Eval(ctx, fmt.Sprintf(jsScrollTo, int64(pos))); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bf.cfg.ScrollPause):
		}

		height, err := bc.Eval(ctx, jsScrollHeight)
		if err != nil {
			return err
		}
		if height > total {
			total = height
		}
	}
	return nil
}

// OpenContexts returns the number of browsing contexts currently open.
func (bf *BrowserFetcher) OpenContexts() int64 {
	return bf.open.Load()
}

// Close shuts down the browser. A later Fetch starts a new one.
func (bf *BrowserFetcher) Close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.session == nil {
		return nil
	}
	err := bf.session.Close()
	bf.session = nil
	bf.logger.Info("browser stopped")
	return err
}

// Type returns the fetcher type identifier.
func (bf *BrowserFetcher) Type() string {
	return string(ModeBrowser)
}

var (
	_ Fetcher = (*BrowserFetcher)(nil)
	_ Fetcher = (*HTTPFetcher)(nil)
)
