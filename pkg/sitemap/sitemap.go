// Package sitemap builds sitemap.xml and robots.txt from published content.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mamdani-tracker/tracker/pkg/logging"
	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

const xmlns = "http://www.sitemaps.org/schemas/sitemap/0.9"

// URL is one <url> entry
type URL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// URLSet is the sitemap document root
type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	XMLNS   string   `xml:"xmlns,attr"`
	URLs    []URL    `xml:"url"`
}

// Source lists the promises that get their own entry
type Source interface {
	ListPromises(ctx context.Context, f store.Filter) ([]*models.Promise, error)
}

type staticRoute struct {
	path       string
	changeFreq string
	priority   string
}

var staticRoutes = []staticRoute{
	{"/", "daily", "1.0"},
	{"/promises", "daily", "0.8"},
	{"/indicators", "weekly", "0.8"},
	{"/first-100-days", "daily", "0.8"},
	{"/about", "monthly", "0.5"},
}

const dateLayout = "2006-01-02"

// Generate builds the sitemap: static routes first, then one entry per
// published promise ordered by slug
func Generate(ctx context.Context, src Source, baseURL string, now time.Time) (*URLSet, error) {
	baseURL = strings.TrimRight(baseURL, "/")

	promises, err := src.ListPromises(ctx, store.Published())
	if err != nil {
		return nil, fmt.Errorf("failed to list promises: %w", err)
	}
	sort.Slice(promises, func(i, j int) bool { return promises[i].Slug < promises[j].Slug })

	set := &URLSet{XMLNS: xmlns, URLs: make([]URL, 0, len(staticRoutes)+len(promises))}
	today := now.UTC().Format(dateLayout)
	for _, r := range staticRoutes {
		set.URLs = append(set.URLs, URL{
			Loc:        baseURL + r.path,
			LastMod:    today,
			ChangeFreq: r.changeFreq,
			Priority:   r.priority,
		})
	}
	for _, p := range promises {
		if !p.EditorialState.IsPublic() {
			continue
		}
		u := URL{
			Loc:        baseURL + "/promises/" + p.Slug,
			ChangeFreq: "weekly",
			Priority:   "0.6",
		}
		if !p.UpdatedAt.IsZero() {
			u.LastMod = p.UpdatedAt.UTC().Format(dateLayout)
		}
		set.URLs = append(set.URLs, u)
	}
	return set, nil
}

// WriteTo writes the XML document with its declaration
func (s *URLSet) WriteTo(w io.Writer) (int64, error) {
	body, err := xml.MarshalIndent(s, "", "  ")
	if err != nil {
		return 0, err
	}
	n, err := io.WriteString(w, xml.Header+string(body)+"\n")
	return int64(n), err
}

// Robots returns robots.txt pointing at the sitemap
func Robots(baseURL string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	var b strings.Builder
	b.WriteString("User-agent: *\n")
	b.WriteString("Allow: /\n")
	b.WriteString("Disallow: /admin\n")
	b.WriteString("Disallow: /api/\n")
	b.WriteString("\n")
	b.WriteString("Sitemap: " + baseURL + "/sitemap.xml\n")
	return b.String()
}

// Handler serves /sitemap.xml
func Handler(src Source, baseURL string, logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		set, err := Generate(r.Context(), src, baseURL, time.Now())
		if err != nil {
			logger.Error("Failed to generate sitemap", map[string]interface{}{"error": err.Error()})
			http.Error(w, "Failed to generate sitemap", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if _, err := set.WriteTo(w); err != nil {
			logger.Warn("Failed to write sitemap", map[string]interface{}{"error": err.Error()})
		}
	})
}

// RobotsHandler serves /robots.txt
func RobotsHandler(baseURL string) http.Handler {
	body := Robots(baseURL)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		io.WriteString(w, body)
	})
}
