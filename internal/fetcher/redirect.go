package fetcher

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/hotline-scraper/internal/config"
	"github.com/IshaanNene/hotline-scraper/internal/types"
)

// RedirectResolver follows an offer link's redirect chain to the shop URL.
type RedirectResolver struct {
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	ua      string
	logger  *slog.Logger
}

// NewRedirectResolver creates a resolver paced by fetcher.redirect_rate.
func NewRedirectResolver(cfg *config.Config, logger *slog.Logger) *RedirectResolver {
	limit := rate.Inf
	if cfg.Fetcher.RedirectRate > 0 {
		limit = rate.Limit(cfg.Fetcher.RedirectRate)
	}
	burst := cfg.Fetcher.RedirectBurst
	if burst < 1 {
		burst = 1
	}

	ua := "hotline-scraper/" + config.Version
	if len(cfg.Fetcher.UserAgents) > 0 {
		ua = cfg.Fetcher.UserAgents[0]
	}

	return &RedirectResolver{
		client:  newHTTPClient(&cfg.Fetcher),
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.Fetcher.RequestTimeout,
		ua:      ua,
		logger:  logger.With("component", "redirect_resolver"),
	}
}

// Resolve returns the final URL after following redirects from rawURL.
// Any failure is a *types.ResolutionError; callers decide the fallback.
func (r *RedirectResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", &types.ResolutionError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &types.ResolutionError{URL: rawURL, Err: err}
	}
	setBrowserHeaders(req, r.ua)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &types.ResolutionError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	final := resp.Request.URL.String()
	r.logger.Debug("redirect resolved", "url", rawURL, "final_url", final, "status", resp.StatusCode)
	return final, nil
}

// Close releases idle connections.
func (r *RedirectResolver) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
