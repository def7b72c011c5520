package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.APIKeys) == 0 {
		return fmt.Errorf("server.api_keys must not be empty")
	}
	if cfg.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be >= 0")
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be >= 1 when rate limiting is enabled, got %d", cfg.Server.RateBurst)
	}

	if cfg.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher.request_timeout must be > 0")
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}
	if cfg.Fetcher.RedirectConcurrency < 1 {
		return fmt.Errorf("fetcher.redirect_concurrency must be >= 1, got %d", cfg.Fetcher.RedirectConcurrency)
	}
	if cfg.Fetcher.ArticleConcurrency < 1 {
		return fmt.Errorf("fetcher.article_concurrency must be >= 1, got %d", cfg.Fetcher.ArticleConcurrency)
	}
	if cfg.Fetcher.RedirectRate < 0 {
		return fmt.Errorf("fetcher.redirect_rate must be >= 0")
	}

	if cfg.Browser.ScrollPause < 0 {
		return fmt.Errorf("browser.scroll_pause must be >= 0")
	}
	if cfg.Browser.ViewportStep < 1 {
		return fmt.Errorf("browser.viewport_step must be >= 1, got %d", cfg.Browser.ViewportStep)
	}

	switch cfg.Store.Type {
	case "mongo":
		if cfg.Store.URI == "" {
			return fmt.Errorf("store.uri is required for mongo store")
		}
		if cfg.Store.Database == "" {
			return fmt.Errorf("store.database is required for mongo store")
		}
	case "memory":
	default:
		return fmt.Errorf("store.type %q is not supported (valid: mongo, memory)", cfg.Store.Type)
	}

	if cfg.Cache.ProductMaxAge <= 0 {
		return fmt.Errorf("cache.product_max_age must be > 0")
	}
	if cfg.Cache.NewsLimit < 1 {
		return fmt.Errorf("cache.news_limit must be >= 1, got %d", cfg.Cache.NewsLimit)
	}

	if cfg.Scheduler.Enabled && cfg.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be > 0")
	}
	if cfg.Scheduler.NewsClient != "http" && cfg.Scheduler.NewsClient != "browser" {
		return fmt.Errorf("scheduler.news_client must be 'http' or 'browser', got %q", cfg.Scheduler.NewsClient)
	}
	for _, raw := range append(append([]string{}, cfg.Scheduler.ProductURLs...), cfg.Scheduler.NewsSources...) {
		if err := ValidateURL(raw); err != nil {
			return fmt.Errorf("scheduler source %q: %w", raw, err)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}

// ValidateURL checks if a URL string is valid for scraping.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
