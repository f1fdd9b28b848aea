// Package browser manages the shared headless Chrome connection and a
// fixed-capacity page pool for the dynamic extraction tier.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config controls how the pool connects to Chrome.
type Config struct {
	// ControlURL attaches to an already running Chrome DevTools endpoint.
	// Empty means launch a local instance.
	ControlURL string
	// Headless applies to launched instances only.
	Headless bool
	// PoolSize is the number of pages kept open for concurrent sessions.
	PoolSize int
}

// Pool hands out browser pages with bounded concurrency. Acquire blocks
// until a page is free or the context expires; every acquired page must be
// released, including on panic paths.
type Pool struct {
	mu      sync.Mutex
	browser *rod.Browser
	cfg     Config
	pages   chan *rod.Page
	logger  *slog.Logger
	closed  bool
}

func NewPool(cfg Config, logger *slog.Logger) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 3
	}
	return &Pool{
		cfg:    cfg,
		logger: logger.With("component", "browser"),
	}
}

// Start connects to Chrome and opens the page pool. Called once at startup;
// the dynamic tier is disabled when this fails.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		return nil
	}

	controlURL := p.cfg.ControlURL
	if controlURL == "" {
		url, err := launcher.New().Headless(p.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("launching chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connecting to chrome: %w", err)
	}

	pages := make(chan *rod.Page, p.cfg.PoolSize)
	for i := 0; i < p.cfg.PoolSize; i++ {
		page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			browser.Close()
			return fmt.Errorf("opening pooled page: %w", err)
		}
		pages <- page
	}

	p.browser = browser
	p.pages = pages
	p.logger.Info("browser pool started", "pool_size", p.cfg.PoolSize, "launched", p.cfg.ControlURL == "")
	return nil
}

// Available reports whether the pool is usable.
func (p *Pool) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.browser != nil && !p.closed
}

// Acquire blocks until a page is free. The caller must Release the page on
// every exit path.
func (p *Pool) Acquire(ctx context.Context) (*rod.Page, error) {
	p.mu.Lock()
	pages := p.pages
	closed := p.closed
	p.mu.Unlock()
	if pages == nil || closed {
		return nil, fmt.Errorf("browser pool not started")
	}

	select {
	case page := <-pages:
		return page, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a page to the pool, resetting it to a blank document so
// the next session starts clean. Safe to call with the pool shut down.
func (p *Pool) Release(page *rod.Page) {
	if page == nil {
		return
	}
	if err := page.Navigate("about:blank"); err != nil {
		p.logger.Warn("resetting pooled page failed", "error", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.pages == nil {
		page.Close()
		return
	}
	select {
	case p.pages <- page:
	default:
		// Pool already full, drop the extra page.
		page.Close()
	}
}

// Shutdown closes all pages and the browser connection.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	if p.pages != nil {
		close(p.pages)
		for page := range p.pages {
			page.Close()
		}
	}
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			p.logger.Warn("closing browser failed", "error", err)
		}
		p.browser = nil
	}
	p.logger.Info("browser pool stopped")
}
