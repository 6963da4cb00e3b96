// Package edge sits in front of the site. Crawlers asking for a page route
// get prerendered HTML from the cache or a fresh render; everyone else goes
// straight to the origin.
package edge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mamdani-tracker/tracker/pkg/botdetect"
	"github.com/mamdani-tracker/tracker/pkg/logging"
	"github.com/mamdani-tracker/tracker/pkg/metrics"
	"github.com/mamdani-tracker/tracker/pkg/prerender"
)

// Values of the X-Prerender response header
const (
	HeaderPrerender = "X-Prerender"
	StatusHit       = "HIT"
	StatusMiss      = "MISS"
	StatusBypass    = "BYPASS"
)

// Config tunes the edge handler
type Config struct {
	CacheTTL      time.Duration // advertised in Cache-Control; match the cache's TTL
	RenderTimeout time.Duration
}

// Handler routes crawler requests to the prerender cache
type Handler struct {
	origin   http.Handler
	renderer prerender.Renderer
	cache    Cache
	cfg      Config
	metrics  *metrics.Metrics
	logger   *logging.Logger
	group    singleflight.Group
}

// New builds an edge handler. metrics may be nil.
func New(origin http.Handler, renderer prerender.Renderer, cache Cache, cfg Config, m *metrics.Metrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheConfig().TTL
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 20 * time.Second
	}
	return &Handler{
		origin:   origin,
		renderer: renderer,
		cache:    cache,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.WithField("component", "edge"),
	}
}

// CacheKey is the normalised path plus the sorted query, minus the
// _escaped_fragment_ marker
func CacheKey(u *url.URL) string {
	key := prerender.NormalizePath(u.Path)
	q := u.Query()
	q.Del("_escaped_fragment_")
	if len(q) > 0 {
		key += "?" + q.Encode()
	}
	return key
}

type renderResult struct {
	page     *prerender.Page
	elapsed  time.Duration
	notFound bool
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	decision := botdetect.Decide(r)
	if !decision.Prerender {
		h.origin.ServeHTTP(w, r)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordBot(decision.Crawler)
	}

	key := CacheKey(r.URL)
	if page, ok := h.cache.Get(key); ok {
		h.record(decision, r, metrics.PrerenderHit, 0)
		h.writePage(w, r, page, StatusHit)
		return
	}

	v, err, _ := h.group.Do(key, func() (interface{}, error) {
		// Renders outlive the request that started them: other callers may
		// be waiting on the same key.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.RenderTimeout)
		defer cancel()

		start := time.Now()
		page, err := h.renderer.Render(ctx, r.URL.Path)
		res := renderResult{page: page, elapsed: time.Since(start)}
		if errors.Is(err, prerender.ErrNotFound) {
			nf, ok := h.renderer.(prerender.NotFoundRenderer)
			if !ok {
				return nil, err
			}
			res.page, res.notFound = nf.NotFound(r.URL.Path), true
		} else if err != nil {
			return nil, err
		}
		h.cache.Set(key, res.page)
		return res, nil
	})
	if err != nil {
		h.logger.Warn("Prerender failed, serving origin", map[string]interface{}{
			"path":    r.URL.Path,
			"crawler": decision.Crawler,
			"error":   err.Error(),
		})
		h.record(decision, r, metrics.PrerenderBypass, 0)
		w.Header().Set(HeaderPrerender, StatusBypass)
		h.origin.ServeHTTP(w, r)
		return
	}

	res := v.(renderResult)
	result := metrics.PrerenderMiss
	if res.notFound {
		result = metrics.PrerenderNotFound
	}
	h.record(decision, r, result, res.elapsed)
	h.writePage(w, r, res.page, StatusMiss)
}

func (h *Handler) record(decision botdetect.Decision, r *http.Request, result string, elapsed time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordPrerender(result, elapsed)
	}
	fields := map[string]interface{}{
		"crawler": decision.Crawler,
		"path":    r.URL.Path,
		"result":  result,
	}
	if elapsed > 0 {
		fields["render_ms"] = elapsed.Milliseconds()
	}
	h.logger.Info("Crawler request", fields)
}

func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, page *prerender.Page, status string) {
	header := w.Header()
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(page.HTML)))
	header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.cfg.CacheTTL.Seconds())))
	header.Set("Vary", "User-Agent")
	header.Set(HeaderPrerender, status)

	code := page.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		w.Write(page.HTML)
	}
}
