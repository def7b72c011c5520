package fetcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/hotline-scraper/internal/config"
)

// rodLauncher starts Chromium with automation-hiding flags and connects rod to it.
func rodLauncher(cfg config.BrowserConfig, logger *slog.Logger) launchFunc {
	return func(ctx context.Context) (browserSession, error) {
		l := launcher.New().
			Headless(cfg.Headless).
			Set("disable-gpu").
			Set("disable-dev-shm-usage").
			Set("no-sandbox").
			Set("disable-setuid-sandbox").
			Set("disable-blink-features", "AutomationControlled")
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}

		controlURL, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chromium: %w", err)
		}

		browser := rod.New().ControlURL(controlURL)
		if err := browser.Connect(); err != nil {
			l.Kill()
			return nil, fmt.Errorf("connect browser: %w", err)
		}

		logger.Debug("chromium launched", "control_url", controlURL)
		return &rodSession{browser: browser, launcher: l, stealth: cfg.Stealth}, nil
	}
}

type rodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	stealth  bool
}

// NewContext opens an incognito browser context and a page inside it.
func (s *rodSession) NewContext(ctx context.Context) (browsingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	incognito, err := s.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("create incognito context: %w", err)
	}

	var page *rod.Page
	if s.stealth {
		page, err = stealth.Page(incognito)
	} else {
		page, err = incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	return &rodContext{browser: incognito, page: page}, nil
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Cleanup()
	return err
}

type rodContext struct {
	browser *rod.Browser // incognito handle, bound to the background context
	page    *rod.Page
}

func (c *rodContext) Navigate(ctx context.Context, rawURL string) error {
	p := c.page.Context(ctx)
	if err := p.Navigate(rawURL); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (c *rodContext) Eval(ctx context.Context, js string) (float64, error) {
	res, err := c.page.Context(ctx).Eval(js)
	if err != nil {
		return 0, err
	}
	return res.Value.Num(), nil
}

func (c *rodContext) HTML(ctx context.Context) (string, error) {
	return c.page.Context(ctx).HTML()
}

// Close disposes the incognito context, which closes its pages.
func (c *rodContext) Close() error {
	return c.browser.Close()
}
