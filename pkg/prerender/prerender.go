// Package prerender produces static HTML for crawler requests, either from
// published store data or by driving a headless browser against the SPA.
package prerender

import (
	"context"
	"errors"
	"html"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// ErrNotFound is returned for unknown routes, unknown slugs and drafts
var ErrNotFound = errors.New("page not found")

// DescriptionLimit caps meta descriptions, in runes
const DescriptionLimit = 160

// Page is one rendered document
type Page struct {
	Path        string
	StatusCode  int
	HTML        []byte
	Title       string
	Description string
	Canonical   string
	RenderedAt  time.Time
}

// Renderer produces the HTML served to crawlers for a path
type Renderer interface {
	Render(ctx context.Context, path string) (*Page, error)
}

// NotFoundRenderer is implemented by renderers that can produce a 404 page
type NotFoundRenderer interface {
	NotFound(path string) *Page
}

// SiteConfig carries the values shared by every page's head
type SiteConfig struct {
	Name        string
	BaseURL     string
	Description string
	ImageURL    string
}

// DefaultSite returns the production site settings
func DefaultSite() SiteConfig {
	return SiteConfig{
		Name:        "Mamdani Tracker",
		BaseURL:     "https://mamdanitracker.org",
		Description: "Tracking the campaign promises, city performance indicators and first 100 days of the Mamdani administration.",
	}
}

// NormalizePath turns a request path into the canonical route used for
// rendering and cache keys: cleaned, lowercase, no trailing slash.
func NormalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.ToLower(path.Clean(p))
}

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from CMS text and collapses whitespace
func PlainText(s string) string {
	stripped := html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.Join(strings.Fields(stripped), " ")
}

// Summarize returns plain text cut to at most limit runes on a word
// boundary, with an ellipsis when anything was dropped.
func Summarize(s string, limit int) string {
	text := PlainText(s)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	cut := runes[:limit-1]
	if i := lastSpace(cut); i > len(cut)/2 {
		cut = cut[:i]
	}
	trimmed := strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return trimmed + "…"
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if unicode.IsSpace(rs[i]) {
			return i
		}
	}
	return -1
}
