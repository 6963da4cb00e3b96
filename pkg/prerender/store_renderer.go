package prerender

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/mamdani-tracker/tracker/pkg/logging"
	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"home", "promises", "promise", "indicators", "timeline", "about", "notfound"}

// StoreRenderer builds pages from published store data
type StoreRenderer struct {
	store  store.Store
	site   SiteConfig
	pages  map[string]*template.Template
	body   *bluemonday.Policy
	logger *logging.Logger
	now    func() time.Time
}

// NewStoreRenderer parses the page templates
func NewStoreRenderer(s store.Store, site SiteConfig, logger *logging.Logger) (*StoreRenderer, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	site.BaseURL = strings.TrimRight(site.BaseURL, "/")

	funcs := template.FuncMap{
		"number": formatNumber,
		"date":   func(t time.Time) string { return t.Format("January 2, 2006") },
	}
	base, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name+".html"); err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		pages[name] = clone
	}

	return &StoreRenderer{
		store:  s,
		site:   site,
		pages:  pages,
		body:   bluemonday.UGCPolicy(),
		logger: logger.WithField("component", "prerender"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Site returns the configured site settings
func (r *StoreRenderer) Site() SiteConfig {
	return r.site
}

type pageMeta struct {
	Title       string
	Description string
	Canonical   string
	Type        string
}

type pageData struct {
	Site   SiteConfig
	Meta   pageMeta
	JSONLD template.JS
	Body   interface{}
}

// Render implements Renderer
func (r *StoreRenderer) Render(ctx context.Context, rawPath string) (*Page, error) {
	p := NormalizePath(rawPath)
	switch {
	case p == "/":
		return r.renderHome(ctx, p)
	case p == "/promises":
		return r.renderPromises(ctx, p)
	case strings.HasPrefix(p, "/promises/"):
		slug := strings.TrimPrefix(p, "/promises/")
		if slug == "" || strings.Contains(slug, "/") {
			return nil, ErrNotFound
		}
		return r.renderPromise(ctx, p, slug)
	case p == "/indicators":
		return r.renderIndicators(ctx, p)
	case p == "/first-100-days", p == "/timeline":
		return r.renderTimeline(ctx, "/first-100-days")
	case p == "/about":
		return r.renderAbout(p)
	}
	return nil, ErrNotFound
}

// NotFound renders the crawler 404 page
func (r *StoreRenderer) NotFound(rawPath string) *Page {
	p := NormalizePath(rawPath)
	page, err := r.execute("notfound", http.StatusNotFound, p, pageMeta{
		Title:       "Page not found | " + r.site.Name,
		Description: "The page you were looking for does not exist.",
		Canonical:   r.canonical(p),
		Type:        "website",
	}, nil, p)
	if err != nil {
		r.logger.Error("Failed to render 404 page", map[string]interface{}{"error": err})
		return &Page{Path: p, StatusCode: http.StatusNotFound, HTML: []byte("<!DOCTYPE html><title>Not found</title>")}
	}
	return page
}

func (r *StoreRenderer) canonical(p string) string {
	if p == "/" {
		return r.site.BaseURL + "/"
	}
	return r.site.BaseURL + p
}

func (r *StoreRenderer) execute(name string, status int, p string, meta pageMeta, jsonLD interface{}, body interface{}) (*Page, error) {
	data := pageData{Site: r.site, Meta: meta, Body: body}
	if jsonLD != nil {
		raw, err := json.Marshal(jsonLD)
		if err != nil {
			return nil, fmt.Errorf("failed to encode structured data: %w", err)
		}
		data.JSONLD = template.JS(raw)
	}

	var buf bytes.Buffer
	if err := r.pages[name].ExecuteTemplate(&buf, "layout.html", data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}
	return &Page{
		Path:        p,
		StatusCode:  status,
		HTML:        buf.Bytes(),
		Title:       meta.Title,
		Description: meta.Description,
		Canonical:   meta.Canonical,
		RenderedAt:  r.now(),
	}, nil
}

func (r *StoreRenderer) renderAbout(p string) (*Page, error) {
	meta := pageMeta{
		Title:       "About | " + r.site.Name,
		Description: Summarize(r.site.Description, DescriptionLimit),
		Canonical:   r.canonical(p),
		Type:        "website",
	}
	ld := map[string]interface{}{
		"@context": "https://schema.org",
		"@type":    "AboutPage",
		"name":     meta.Title,
		"url":      meta.Canonical,
	}
	return r.execute("about", http.StatusOK, p, meta, ld, nil)
}

type statusCount struct {
	Status models.PromiseStatus
	Count  int
}

type homeBody struct {
	Total    int
	Statuses []statusCount
	Recent   []*models.Promise
	Timeline []*models.TimelineEntry
}

func (r *StoreRenderer) renderHome(ctx context.Context, p string) (*Page, error) {
	var (
		promises []*models.Promise
		timeline []*models.TimelineEntry
		stats    *models.ContentStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		promises, err = r.store.ListPromises(gctx, store.Published())
		return err
	})
	g.Go(func() (err error) {
		timeline, err = r.store.ListTimelineEntries(gctx, store.Published())
		return err
	})
	g.Go(func() (err error) {
		stats, err = r.store.ContentStats(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	body := homeBody{Total: len(promises)}
	for _, status := range models.PromiseStatuses {
		body.Statuses = append(body.Statuses, statusCount{Status: status, Count: stats.PromisesByStatus[status]})
	}
	body.Recent = latestPromises(promises, 6)
	if len(timeline) > 5 {
		timeline = timeline[len(timeline)-5:]
	}
	body.Timeline = timeline

	meta := pageMeta{
		Title:       r.site.Name + " | Tracking campaign promises",
		Description: Summarize(r.site.Description, DescriptionLimit),
		Canonical:   r.canonical(p),
		Type:        "website",
	}
	ld := map[string]interface{}{
		"@context":    "https://schema.org",
		"@type":       "WebSite",
		"name":        r.site.Name,
		"url":         meta.Canonical,
		"description": meta.Description,
	}
	return r.execute("home", http.StatusOK, p, meta, ld, body)
}

// latestPromises returns up to n promises, most recently updated first
func latestPromises(promises []*models.Promise, n int) []*models.Promise {
	out := append([]*models.Promise(nil), promises...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].UpdatedAt.After(out[j-1].UpdatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

type promiseGroup struct {
	Category string
	Promises []*models.Promise
}

// groupByCategory keeps display order within and across groups
func groupByCategory(promises []*models.Promise) []promiseGroup {
	var groups []promiseGroup
	index := make(map[string]int)
	for _, p := range promises {
		category := strings.TrimSpace(p.Category)
		if category == "" {
			category = "Other"
		}
		i, ok := index[category]
		if !ok {
			i = len(groups)
			index[category] = i
			groups = append(groups, promiseGroup{Category: category})
		}
		groups[i].Promises = append(groups[i].Promises, p)
	}
	return groups
}

func (r *StoreRenderer) renderPromises(ctx context.Context, p string) (*Page, error) {
	promises, err := r.store.ListPromises(ctx, store.Published())
	if err != nil {
		return nil, err
	}

	meta := pageMeta{
		Title:       "Campaign Promises | " + r.site.Name,
		Description: fmt.Sprintf("Every campaign promise tracked by %s, grouped by issue area with its current status.", r.site.Name),
		Canonical:   r.canonical(p),
		Type:        "website",
	}
	items := make([]map[string]interface{}, 0, len(promises))
	for i, pr := range promises {
		items = append(items, map[string]interface{}{
			"@type":    "ListItem",
			"position": i + 1,
			"name":     pr.Headline,
			"url":      r.canonical("/promises/" + pr.Slug),
		})
	}
	ld := map[string]interface{}{
		"@context":        "https://schema.org",
		"@type":           "ItemList",
		"name":            "Campaign Promises",
		"itemListElement": items,
	}
	return r.execute("promises", http.StatusOK, p, meta, ld, groupByCategory(promises))
}

type indicatorView struct {
	*models.Indicator
	PromiseSlug     string
	PromiseHeadline string
}

type promiseBody struct {
	Promise     *models.Promise
	Description template.HTML
	Indicators  []indicatorView
}

func (r *StoreRenderer) renderPromise(ctx context.Context, p, slug string) (*Page, error) {
	var (
		promise    *models.Promise
		indicators []*models.Indicator
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		promise, err = r.store.GetPromiseBySlug(gctx, slug)
		return err
	})
	g.Go(func() (err error) {
		indicators, err = r.store.ListIndicators(gctx, store.Published())
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !promise.EditorialState.IsPublic() {
		return nil, ErrNotFound
	}

	body := promiseBody{
		Promise:     promise,
		Description: template.HTML(r.body.Sanitize(promise.Description)),
	}
	for _, ind := range indicators {
		if models.ResolveRelatedPromise(ind.RelatedPromise, []*models.Promise{promise}) != nil {
			body.Indicators = append(body.Indicators, indicatorView{Indicator: ind})
		}
	}

	description := Summarize(promise.Description, DescriptionLimit)
	if description == "" {
		description = fmt.Sprintf("%s: %s.", promise.Headline, promise.Status.Label())
	}
	meta := pageMeta{
		Title:       promise.Headline + " | " + r.site.Name,
		Description: description,
		Canonical:   r.canonical(p),
		Type:        "article",
	}
	ld := map[string]interface{}{
		"@context":     "https://schema.org",
		"@type":        "Article",
		"headline":     promise.Headline,
		"description":  description,
		"url":          meta.Canonical,
		"dateModified": promise.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if promise.PublishedAt != nil {
		ld["datePublished"] = promise.PublishedAt.UTC().Format(time.RFC3339)
	}
	if promise.Category != "" {
		ld["articleSection"] = promise.Category
	}
	return r.execute("promise", http.StatusOK, p, meta, ld, body)
}

func (r *StoreRenderer) renderIndicators(ctx context.Context, p string) (*Page, error) {
	var (
		indicators []*models.Indicator
		promises   []*models.Promise
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		indicators, err = r.store.ListIndicators(gctx, store.Published())
		return err
	})
	g.Go(func() (err error) {
		promises, err = r.store.ListPromises(gctx, store.Published())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	views := make([]indicatorView, 0, len(indicators))
	for _, ind := range indicators {
		view := indicatorView{Indicator: ind}
		if related := models.ResolveRelatedPromise(ind.RelatedPromise, promises); related != nil {
			view.PromiseSlug = related.Slug
			view.PromiseHeadline = related.Headline
		}
		views = append(views, view)
	}

	meta := pageMeta{
		Title:       "Performance Indicators | " + r.site.Name,
		Description: "City performance indicators with baselines, targets and trends, linked to the promises they measure.",
		Canonical:   r.canonical(p),
		Type:        "website",
	}
	ld := map[string]interface{}{
		"@context":    "https://schema.org",
		"@type":       "Dataset",
		"name":        "Performance Indicators",
		"description": meta.Description,
		"url":         meta.Canonical,
	}
	return r.execute("indicators", http.StatusOK, p, meta, ld, views)
}

func (r *StoreRenderer) renderTimeline(ctx context.Context, p string) (*Page, error) {
	entries, err := r.store.ListTimelineEntries(ctx, store.Published())
	if err != nil {
		return nil, err
	}

	meta := pageMeta{
		Title:       "First 100 Days | " + r.site.Name,
		Description: "A day-by-day record of the first 100 days of the administration.",
		Canonical:   r.canonical(p),
		Type:        "website",
	}
	items := make([]map[string]interface{}, 0, len(entries))
	for i, e := range entries {
		items = append(items, map[string]interface{}{
			"@type":    "ListItem",
			"position": i + 1,
			"name":     "Day " + strconv.Itoa(e.Day) + ": " + e.Title,
		})
	}
	ld := map[string]interface{}{
		"@context":        "https://schema.org",
		"@type":           "ItemList",
		"name":            "First 100 Days",
		"itemListElement": items,
	}
	return r.execute("timeline", http.StatusOK, p, meta, ld, entries)
}

func formatNumber(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
