package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/hotline-scraper/internal/observability"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

// ErrNoFetcher is returned when no fetcher is registered for a mode.
var ErrNoFetcher = errors.New("no fetcher available for mode")

// Acquirer picks a fetcher by mode and enforces the per-call timeout.
type Acquirer struct {
	fetchers       map[Mode]Fetcher
	defaultTimeout time.Duration
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// NewAcquirer registers fetchers under their Type().
func NewAcquirer(defaultTimeout time.Duration, metrics *observability.Metrics, logger *slog.Logger, fetchers ...Fetcher) *Acquirer {
	a := &Acquirer{
		fetchers:       make(map[Mode]Fetcher, len(fetchers)),
		defaultTimeout: defaultTimeout,
		metrics:        metrics,
		logger:         logger.With("component", "acquirer"),
	}
	for _, f := range fetchers {
		a.fetchers[Mode(f.Type())] = f
	}
	return a
}

// Acquire returns the markup of rawURL. timeout <= 0 uses the default.
// Errors are *types.TimeoutError or *types.FetchError.
func (a *Acquirer) Acquire(ctx context.Context, rawURL string, mode Mode, timeout time.Duration) (string, error) {
	f, ok := a.fetchers[mode]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoFetcher, mode)
	}
	if timeout <= 0 {
		timeout = a.defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := f.Fetch(ctx, rawURL)
	if err != nil {
		err = classifyError(ctx, rawURL, timeout, err)
		var te *types.TimeoutError
		if errors.As(err, &te) {
			te.Timeout = timeout
		}
		a.metrics.RecordFetchError(te != nil)
		a.logger.Warn("acquire failed", "url", rawURL, "mode", mode, "timeout", timeout, "error", err)
		return "", err
	}

	a.metrics.PagesFetched.Add(1)
	return page.HTML, nil
}

// Close closes every registered fetcher.
func (a *Acquirer) Close() error {
	var errs []error
	for _, f := range a.fetchers {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s fetcher: %w", f.Type(), err))
		}
	}
	return errors.Join(errs...)
}
