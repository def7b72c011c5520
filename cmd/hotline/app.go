package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/hotline-scraper/internal/config"
	"github.com/IshaanNene/hotline-scraper/internal/engine"
	"github.com/IshaanNene/hotline-scraper/internal/fetcher"
	"github.com/IshaanNene/hotline-scraper/internal/observability"
	"github.com/IshaanNene/hotline-scraper/internal/parser"
	"github.com/IshaanNene/hotline-scraper/internal/repository"
	"github.com/IshaanNene/hotline-scraper/internal/storage"
)

// app holds the wired components shared by every command.
type app struct {
	service  *engine.Service
	metrics  *observability.Metrics
	acquirer *fetcher.Acquirer
	resolver *fetcher.RedirectResolver
	store    storage.Store
	logger   *slog.Logger
}

func newLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(cfg.Logging, verbose)
}

// newApp wires fetchers, strategies, repositories and the service. Commands
// that never touch the cache pass persistent=false and get an in-memory store.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, persistent bool) (*app, error) {
	metrics := observability.NewMetrics(logger)

	httpFetcher := fetcher.NewHTTPFetcher(cfg, logger)
	browser := fetcher.NewBrowserFetcher(cfg, logger)
	metrics.TrackOpenContexts(browser.OpenContexts)
	acquirer := fetcher.NewAcquirer(cfg.Fetcher.RequestTimeout, metrics, logger, httpFetcher, browser)

	resolver := fetcher.NewRedirectResolver(cfg, logger)
	registry := parser.NewRegistry(resolver, cfg.Fetcher.RedirectConcurrency, logger)

	var store storage.Store = storage.NewMemoryStore(logger)
	if persistent {
		s, err := storage.Open(ctx, cfg.Store, logger)
		if err != nil {
			_ = acquirer.Close()
			_ = resolver.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		store = s
	}

	products := repository.NewProductRepository(store.Collection(cfg.Store.ProductsCollection), logger)
	news := repository.NewNewsRepository(store.Collection(cfg.Store.NewsCollection), logger)

	a := &app{
		service:  engine.NewService(cfg, registry, acquirer, products, news, metrics, logger),
		metrics:  metrics,
		acquirer: acquirer,
		resolver: resolver,
		store:    store,
		logger:   logger,
	}

	if persistent {
		if err := products.EnsureIndexes(ctx); err != nil {
			a.close()
			return nil, err
		}
		if err := news.EnsureIndexes(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	logger.Info("components ready",
		"store", store.Name(),
		"sources", registry.Sources(),
		"headless", cfg.Browser.Headless,
	)
	return a, nil
}

func (a *app) close() {
	if err := a.acquirer.Close(); err != nil {
		a.logger.Warn("close fetchers", "error", err)
	}
	if err := a.resolver.Close(); err != nil {
		a.logger.Warn("close redirect resolver", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.store.Close(ctx); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}
