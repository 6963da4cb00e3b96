package prerender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/mamdani-tracker/tracker/pkg/logging"
	"github.com/mamdani-tracker/tracker/pkg/retry"
)

// BrowserConfig configures the headless Chrome renderer
type BrowserConfig struct {
	Origin      string        // where the SPA is served, e.g. http://127.0.0.1:8080
	ControlURL  string        // existing DevTools endpoint; empty launches Chrome
	Bin         string        // Chrome binary for the launcher; empty lets rod find one
	Timeout     time.Duration // per-page navigation budget
	StableAfter time.Duration // quiet period before the DOM is captured
	Retries     int
}

// BrowserRenderer loads routes in headless Chrome and serialises the DOM
// once the SPA has settled
type BrowserRenderer struct {
	cfg    BrowserConfig
	logger *logging.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launched *launcher.Launcher
}

// NewBrowserRenderer creates a renderer; Chrome starts on first use
func NewBrowserRenderer(cfg BrowserConfig, logger *logging.Logger) *BrowserRenderer {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = 500 * time.Millisecond
	}
	cfg.Origin = strings.TrimRight(cfg.Origin, "/")
	return &BrowserRenderer{cfg: cfg, logger: logger.WithField("component", "browser-renderer")}
}

func (b *BrowserRenderer) connect(ctx context.Context) (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		b.launched = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	b.logger.Info("Headless browser connected", map[string]interface{}{"control_url": controlURL})
	b.browser = browser
	return browser, nil
}

// Render implements Renderer
func (b *BrowserRenderer) Render(ctx context.Context, rawPath string) (*Page, error) {
	p := NormalizePath(rawPath)

	var page *Page
	cfg := retry.Config{
		MaxRetries:     b.cfg.Retries,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2,
		ShouldRetry:    func(err error) bool { return !errors.Is(err, ErrNotFound) },
	}
	err := retry.Do(ctx, cfg, func() error {
		var err error
		page, err = b.renderOnce(ctx, p)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	return page, err
}

func (b *BrowserRenderer) renderOnce(ctx context.Context, p string) (*Page, error) {
	browser, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("open incognito context: %w", err)
	}
	defer incognito.Close()

	tab, err := incognito.Context(ctx).Page(proto.TargetCreateTarget{URL: b.cfg.Origin + p})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	tab = tab.Timeout(b.cfg.Timeout)

	if err := tab.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for load: %w", err)
	}
	if err := tab.WaitStable(b.cfg.StableAfter); err != nil {
		b.logger.Debug("Page did not settle before timeout", map[string]interface{}{"path": p, "error": err})
	}

	doc, err := tab.HTML()
	if err != nil {
		return nil, fmt.Errorf("serialise DOM: %w", err)
	}

	meta, err := ExtractMeta(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse rendered HTML: %w", err)
	}
	if meta.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	return &Page{
		Path:        p,
		StatusCode:  http.StatusOK,
		HTML:        []byte("<!DOCTYPE html>\n" + doc),
		Title:       meta.Title,
		Description: meta.Description,
		Canonical:   meta.Canonical,
		RenderedAt:  time.Now().UTC(),
	}, nil
}

// Close shuts the browser down, killing it if this renderer launched it
func (b *BrowserRenderer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.launched != nil {
		b.launched.Kill()
		b.launched = nil
	}
	return err
}
