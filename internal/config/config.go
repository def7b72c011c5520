package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for the hotline scraper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    yaml:"server"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"   yaml:"fetcher"`
	Browser   BrowserConfig   `mapstructure:"browser"   yaml:"browser"`
	Store     StoreConfig     `mapstructure:"store"     yaml:"store"`
	Cache     CacheConfig     `mapstructure:"cache"     yaml:"cache"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             yaml:"port"`
	APIKeys         []string      `mapstructure:"api_keys"         yaml:"api_keys"`
	RateLimit       float64       `mapstructure:"rate_limit"       yaml:"rate_limit"` // requests/sec per key, 0 disables
	RateBurst       int           `mapstructure:"rate_burst"       yaml:"rate_burst"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// FetcherConfig controls static page acquisition and redirect resolution.
type FetcherConfig struct {
	RequestTimeout      time.Duration `mapstructure:"request_timeout"      yaml:"request_timeout"`
	MaxBodySize         int64         `mapstructure:"max_body_size"        yaml:"max_body_size"`
	MaxRedirects        int           `mapstructure:"max_redirects"        yaml:"max_redirects"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"    yaml:"idle_conn_timeout"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"       yaml:"max_idle_conns"`
	UserAgents          []string      `mapstructure:"user_agents"          yaml:"user_agents"`
	RedirectRate        float64       `mapstructure:"redirect_rate"        yaml:"redirect_rate"`
	RedirectBurst       int           `mapstructure:"redirect_burst"       yaml:"redirect_burst"`
	RedirectConcurrency int           `mapstructure:"redirect_concurrency" yaml:"redirect_concurrency"`
	ArticleConcurrency  int           `mapstructure:"article_concurrency"  yaml:"article_concurrency"`
}

// BrowserConfig controls the shared headless browser.
type BrowserConfig struct {
	Headless     bool          `mapstructure:"headless"      yaml:"headless"`
	Bin          string        `mapstructure:"bin"           yaml:"bin"`
	Stealth      bool          `mapstructure:"stealth"       yaml:"stealth"`
	ScrollPause  time.Duration `mapstructure:"scroll_pause"  yaml:"scroll_pause"`
	ViewportStep int           `mapstructure:"viewport_step" yaml:"viewport_step"`
}

// StoreConfig controls the document store.
type StoreConfig struct {
	Type               string        `mapstructure:"type"                yaml:"type"` // mongo, memory
	URI                string        `mapstructure:"uri"                 yaml:"uri"`
	Database           string        `mapstructure:"database"            yaml:"database"`
	ProductsCollection string        `mapstructure:"products_collection" yaml:"products_collection"`
	NewsCollection     string        `mapstructure:"news_collection"     yaml:"news_collection"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"     yaml:"connect_timeout"`
}

// CacheConfig controls freshness and read limits.
type CacheConfig struct {
	ProductMaxAge time.Duration `mapstructure:"product_max_age" yaml:"product_max_age"`
	NewsLimit     int           `mapstructure:"news_limit"      yaml:"news_limit"`
}

// SchedulerConfig controls the periodic scrape cycles.
type SchedulerConfig struct {
	Enabled     bool          `mapstructure:"enabled"      yaml:"enabled"`
	Interval    time.Duration `mapstructure:"interval"     yaml:"interval"`
	RunOnStart  bool          `mapstructure:"run_on_start" yaml:"run_on_start"`
	ProductURLs []string      `mapstructure:"product_urls" yaml:"product_urls"`
	NewsSources []string      `mapstructure:"news_sources" yaml:"news_sources"`
	NewsClient  string        `mapstructure:"news_client"  yaml:"news_client"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint on the API server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			APIKeys:         []string{"test-key-1", "test-key-2"},
			RateLimit:       5,
			RateBurst:       10,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Fetcher: FetcherConfig{
			RequestTimeout:  30 * time.Second,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			MaxRedirects:    10,
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
			RedirectRate:        5,
			RedirectBurst:       5,
			RedirectConcurrency: 4,
			ArticleConcurrency:  4,
		},
		Browser: BrowserConfig{
			Headless:     true,
			Stealth:      true,
			ScrollPause:  300 * time.Millisecond,
			ViewportStep: 800,
		},
		Store: StoreConfig{
			Type:               "mongo",
			URI:                "mongodb://localhost:27017",
			Database:           "hotline_parser",
			ProductsCollection: "products",
			NewsCollection:     "news",
			ConnectTimeout:     10 * time.Second,
		},
		Cache: CacheConfig{
			ProductMaxAge: 30 * time.Minute,
			NewsLimit:     100,
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Interval:   30 * time.Minute,
			RunOnStart: true,
			ProductURLs: []string{
				"https://hotline.ua/bt-vyazalnye-mashiny/silver-reed-sk840srp60n",
			},
			NewsSources: []string{
				"https://epravda.com.ua/news/",
				"https://politeka.net/uk/newsfeed",
				"https://www.pravda.com.ua/news/",
			},
			NewsClient: "http",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
