package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/IshaanNene/hotline-scraper/internal/types"
)

// Mode selects how a page is acquired.
type Mode string

const (
	// ModeHTTP issues a plain GET with no script execution.
	ModeHTTP Mode = "http"
	// ModeBrowser renders the page in the shared headless browser.
	ModeBrowser Mode = "browser"
)

// ParseMode validates a client mode string. Empty means ModeHTTP.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeHTTP:
		return ModeHTTP, nil
	case ModeBrowser:
		return ModeBrowser, nil
	default:
		return "", fmt.Errorf("unknown client mode %q (valid: http, browser)", s)
	}
}

// Page is the acquired markup of one URL.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	Duration   time.Duration
}

// Fetcher is the interface for all page fetcher implementations.
type Fetcher interface {
	// Fetch retrieves the markup at rawURL. The context carries the deadline.
	Fetch(ctx context.Context, rawURL string) (*Page, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}

// classifyError maps a raw fetch failure onto the error taxonomy.
// Deadline expiry becomes *types.TimeoutError; anything else becomes *types.FetchError.
func classifyError(ctx context.Context, rawURL string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}

	var te *types.TimeoutError
	if errors.As(err, &te) {
		return err
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &types.TimeoutError{URL: rawURL, Timeout: timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &types.TimeoutError{URL: rawURL, Timeout: timeout, Err: err}
	}

	var fe *types.FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &types.FetchError{URL: rawURL, Err: err}
}

// deadlineBudget returns the time left on ctx, or fallback if it has no deadline.
func deadlineBudget(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl).Round(time.Millisecond)
	}
	return fallback
}
