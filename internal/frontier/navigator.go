package frontier

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/JakeFAU/judgment-crawler/internal/metrics"
	"go.uber.org/zap"
)

// NavigatorConfig describes how listing pages are addressed. Both templates
// take the page number as their single %d verb.
type NavigatorConfig struct {
	PageURLTemplate       string
	PagerSelectorTemplate string
}

// Navigator moves the browser between listing pages.
type Navigator struct {
	browser crawler.Browser
	cfg     NavigatorConfig
	logger  *zap.Logger
}

// NewNavigator wires a navigator around the run's browser.
func NewNavigator(browser crawler.Browser, cfg NavigatorConfig, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{browser: browser, cfg: cfg, logger: logger}
}

// PageURL returns the direct URL of page.
func (n *Navigator) PageURL(page crawler.PageID) string {
	return fmt.Sprintf(n.cfg.PageURLTemplate, int(page))
}

// Load opens the first listing page by direct navigation.
func (n *Navigator) Load(ctx context.Context, url string) error {
	if err := n.browser.Navigate(ctx, url); err != nil {
		metrics.ObserveNavigation("load", "failed")
		return fmt.Errorf("load %s: %w", url, err)
	}
	metrics.ObserveNavigation("load", "ok")
	return nil
}

// GoTo moves to page, first by clicking its pager control on the loaded
// listing and then by navigating to its URL. When both fail it returns
// crawler.ErrNavigationFailed wrapping both causes.
func (n *Navigator) GoTo(ctx context.Context, page crawler.PageID) error {
	selector := fmt.Sprintf(n.cfg.PagerSelectorTemplate, int(page))
	clickErr := n.browser.Click(ctx, selector)
	if clickErr == nil {
		metrics.ObserveNavigation("click", "ok")
		return nil
	}
	metrics.ObserveNavigation("click", "failed")
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("navigate to page %d: %w", page, ctxErr)
	}
	n.logger.Warn("pager click failed, navigating directly",
		zap.Int("page", int(page)),
		zap.String("selector", selector),
		zap.Error(clickErr))

	url := n.PageURL(page)
	navErr := n.browser.Navigate(ctx, url)
	if navErr == nil {
		metrics.ObserveNavigation("direct", "ok")
		return nil
	}
	metrics.ObserveNavigation("direct", "failed")
	return crawler.NavigationFailed(page, errors.Join(
		fmt.Errorf("click %s: %w", selector, clickErr),
		fmt.Errorf("navigate %s: %w", url, navErr),
	))
}
