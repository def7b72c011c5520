package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/hotline-scraper/internal/api"
	"github.com/IshaanNene/hotline-scraper/internal/config"
	"github.com/IshaanNene/hotline-scraper/internal/engine"
	"github.com/IshaanNene/hotline-scraper/internal/fetcher"
	"github.com/IshaanNene/hotline-scraper/internal/model"
	"github.com/IshaanNene/hotline-scraper/internal/parser"
	"github.com/IshaanNene/hotline-scraper/internal/storage"
)

var (
	cfgFile     string
	verbose     bool
	port        int
	storeType   string
	mongoURI    string
	noScheduler bool
	headful     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hotline",
		Short: "Hotline offers and Ukrainian news scraper",
		Long: `hotline scrapes product offers from hotline.ua and articles from
epravda.com.ua, politeka.net and pravda.com.ua, caches them in MongoDB and
serves them over an HTTP API. A scheduler refreshes the configured sources.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&storeType, "store", "", "document store: mongo, memory")
	rootCmd.PersistentFlags().StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI")
	rootCmd.PersistentFlags().BoolVar(&headful, "headful", false, "show the browser window")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the scheduler",
		RunE:  runServe,
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not refresh sources in the background")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.close()

	var sched *engine.Scheduler
	if cfg.Scheduler.Enabled && !noScheduler {
		sched = engine.NewScheduler(cfg.Scheduler, a.service, a.metrics, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	var ctrl api.SchedulerController
	if sched != nil {
		ctrl = sched
	}
	srv := api.NewServer(cfg, a.service, ctrl, a.metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received signal, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown", "error", err)
	}
	return nil
}

// scrapeCmd creates the "scrape" subcommand group. Scraping from the CLI
// does not read or write the cache.
func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape one source and print or export the records",
	}
	cmd.AddCommand(scrapeProductCmd())
	cmd.AddCommand(scrapeNewsCmd())
	return cmd
}

func scrapeProductCmd() *cobra.Command {
	var (
		output    string
		format    string
		timeout   time.Duration
		client    string
		priceSort string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "product [url]",
		Short: "Scrape the offers of a hotline.ua product page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ValidateURL(args[0]); err != nil {
				return fmt.Errorf("invalid URL %q: %w", args[0], err)
			}
			mode := fetcher.ModeBrowser
			if client != "" {
				m, err := fetcher.ParseMode(client)
				if err != nil {
					return err
				}
				mode = m
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			offers, err := a.service.ScrapeProduct(ctx, args[0], mode, timeout)
			if err != nil {
				return err
			}
			offers = model.SortOffers(offers, priceSort, limit)

			records := make([]any, len(offers))
			for i, o := range offers {
				records[i] = o
			}
			return emit(records, output, format, logger)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write records to a file (.json, .jsonl, .csv)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: json, jsonl, csv (default from extension)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "page acquisition timeout (default from config)")
	cmd.Flags().StringVar(&client, "client", "", "client: browser (default) or http")
	cmd.Flags().StringVar(&priceSort, "price-sort", "", "sort offers by price: asc, desc")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum offers to print")
	return cmd
}

func scrapeNewsCmd() *cobra.Command {
	var (
		output string
		format string
		until  string
		client string
	)
	cmd := &cobra.Command{
		Use:   "news [listing-url]",
		Short: "Scrape articles from a news listing page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ValidateURL(args[0]); err != nil {
				return fmt.Errorf("invalid URL %q: %w", args[0], err)
			}
			mode, err := fetcher.ParseMode(client)
			if err != nil {
				return err
			}
			untilTime := time.Now().UTC()
			if until != "" {
				if untilTime, err = api.ParseUntil(until); err != nil {
					return fmt.Errorf("--until: %w", err)
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			items, err := a.service.ScrapeNews(ctx, args[0], untilTime, mode)
			if err != nil {
				return err
			}
			records := make([]any, len(items))
			for i, it := range items {
				records[i] = it
			}
			return emit(records, output, format, logger)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write records to a file (.json, .jsonl, .csv)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: json, jsonl, csv (default from extension)")
	cmd.Flags().StringVar(&until, "until", "", "latest publication time, RFC3339 or YYYY-MM-DD (default now)")
	cmd.Flags().StringVar(&client, "client", "http", "client: http or browser")
	return cmd
}

// runCmd creates the "run" subcommand: one scheduler cycle for every kind.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one refresh cycle of every configured source and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.close()

			sched := engine.NewScheduler(cfg.Scheduler, a.service, a.metrics, logger)
			for _, kind := range []parser.Kind{parser.KindProducts, parser.KindNews} {
				if _, err := sched.ForceRun(kind); err != nil {
					return err
				}
			}

			done := make(chan struct{})
			go func() {
				sched.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				logger.Info("received signal, stopping cycle...")
				sched.Stop()
			}

			var failures int
			for _, ks := range sched.Status().Kinds {
				failures += ks.LastErrors
				fmt.Printf("%-9s records=%d errors=%d\n", ks.Kind, ks.LastRecords, ks.LastErrors)
			}
			if failures > 0 {
				return fmt.Errorf("%d source(s) failed", failures)
			}
			return nil
		},
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hotline %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Server:\n")
			fmt.Printf("  Port:              %d\n", cfg.Server.Port)
			fmt.Printf("  API Keys:          %d configured\n", len(cfg.Server.APIKeys))
			fmt.Printf("  Rate Limit:        %.1f/s (burst %d)\n", cfg.Server.RateLimit, cfg.Server.RateBurst)
			fmt.Printf("\nFetcher:\n")
			fmt.Printf("  Request Timeout:   %s\n", cfg.Fetcher.RequestTimeout)
			fmt.Printf("  Max Body Size:     %d bytes\n", cfg.Fetcher.MaxBodySize)
			fmt.Printf("  User Agents:       %d configured\n", len(cfg.Fetcher.UserAgents))
			fmt.Printf("  Redirect Rate:     %.1f/s\n", cfg.Fetcher.RedirectRate)
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Headless:          %v\n", cfg.Browser.Headless)
			fmt.Printf("  Stealth:           %v\n", cfg.Browser.Stealth)
			fmt.Printf("\nStore:\n")
			fmt.Printf("  Type:              %s\n", cfg.Store.Type)
			fmt.Printf("  Database:          %s\n", cfg.Store.Database)
			fmt.Printf("  Product Max Age:   %s\n", cfg.Cache.ProductMaxAge)
			fmt.Printf("\nScheduler:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Scheduler.Enabled)
			fmt.Printf("  Interval:          %s\n", cfg.Scheduler.Interval)
			fmt.Printf("  Product Sources:   %s\n", strings.Join(cfg.Scheduler.ProductURLs, ", "))
			fmt.Printf("  News Sources:      %s\n", strings.Join(cfg.Scheduler.NewsSources, ", "))
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Path:              %s\n", cfg.Metrics.Path)
			return nil
		},
	}
}

// loadConfig loads, overrides and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if port > 0 {
		cfg.Server.Port = port
	}
	if storeType != "" {
		cfg.Store.Type = strings.ToLower(storeType)
	}
	if mongoURI != "" {
		cfg.Store.URI = mongoURI
	}
	if headful {
		cfg.Browser.Headless = false
	}
}

// emit prints records as indented JSON or writes them with a file exporter.
func emit(records []any, output, format string, logger *slog.Logger) error {
	if output == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(records)
	}

	if format == "" {
		format = storage.FormatFromPath(output)
	}
	exp, err := storage.NewFileExporter(format, output, logger)
	if err != nil {
		return err
	}
	if err := exp.Write(records); err != nil {
		_ = exp.Close()
		return fmt.Errorf("write %s: %w", output, err)
	}
	if err := exp.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d records to %s\n", len(records), output)
	return nil
}
