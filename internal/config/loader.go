package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from .env, file, and environment.
// Priority (highest to lowest): HOTLINE_* env vars > legacy env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	// A missing .env is fine; values already in the environment are not overwritten.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("HOTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("hotline")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".hotline"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyLegacyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyLegacyEnv honors the variable names of earlier deployments
// (MONGODB_URL, DATABASE_NAME, API_KEYS, REQUEST_TIMEOUT in seconds)
// unless the prefixed equivalent is set.
func applyLegacyEnv(cfg *Config) error {
	legacy := func(name, prefixed string) (string, bool) {
		if _, ok := os.LookupEnv(prefixed); ok {
			return "", false
		}
		val, ok := os.LookupEnv(name)
		return strings.TrimSpace(val), ok && strings.TrimSpace(val) != ""
	}

	if val, ok := legacy("MONGODB_URL", "HOTLINE_STORE_URI"); ok {
		cfg.Store.URI = val
	}
	if val, ok := legacy("DATABASE_NAME", "HOTLINE_STORE_DATABASE"); ok {
		cfg.Store.Database = val
	}
	if val, ok := legacy("API_KEYS", "HOTLINE_SERVER_API_KEYS"); ok {
		cfg.Server.APIKeys = splitList(val)
	}
	if val, ok := legacy("REQUEST_TIMEOUT", "HOTLINE_FETCHER_REQUEST_TIMEOUT"); ok {
		secs, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("REQUEST_TIMEOUT must be whole seconds, got %q", val)
		}
		cfg.Fetcher.RequestTimeout = time.Duration(secs) * time.Second
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.api_keys", cfg.Server.APIKeys)
	v.SetDefault("server.rate_limit", cfg.Server.RateLimit)
	v.SetDefault("server.rate_burst", cfg.Server.RateBurst)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("fetcher.request_timeout", cfg.Fetcher.RequestTimeout)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.max_redirects", cfg.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.idle_conn_timeout", cfg.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.max_idle_conns", cfg.Fetcher.MaxIdleConns)
	v.SetDefault("fetcher.user_agents", cfg.Fetcher.UserAgents)
	v.SetDefault("fetcher.redirect_rate", cfg.Fetcher.RedirectRate)
	v.SetDefault("fetcher.redirect_burst", cfg.Fetcher.RedirectBurst)
	v.SetDefault("fetcher.redirect_concurrency", cfg.Fetcher.RedirectConcurrency)
	v.SetDefault("fetcher.article_concurrency", cfg.Fetcher.ArticleConcurrency)

	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.bin", cfg.Browser.Bin)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)
	v.SetDefault("browser.scroll_pause", cfg.Browser.ScrollPause)
	v.SetDefault("browser.viewport_step", cfg.Browser.ViewportStep)

	v.SetDefault("store.type", cfg.Store.Type)
	v.SetDefault("store.uri", cfg.Store.URI)
	v.SetDefault("store.database", cfg.Store.Database)
	v.SetDefault("store.products_collection", cfg.Store.ProductsCollection)
	v.SetDefault("store.news_collection", cfg.Store.NewsCollection)
	v.SetDefault("store.connect_timeout", cfg.Store.ConnectTimeout)

	v.SetDefault("cache.product_max_age", cfg.Cache.ProductMaxAge)
	v.SetDefault("cache.news_limit", cfg.Cache.NewsLimit)

	v.SetDefault("scheduler.enabled", cfg.Scheduler.Enabled)
	v.SetDefault("scheduler.interval", cfg.Scheduler.Interval)
	v.SetDefault("scheduler.run_on_start", cfg.Scheduler.RunOnStart)
	v.SetDefault("scheduler.product_urls", cfg.Scheduler.ProductURLs)
	v.SetDefault("scheduler.news_sources", cfg.Scheduler.NewsSources)
	v.SetDefault("scheduler.news_client", cfg.Scheduler.NewsClient)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
