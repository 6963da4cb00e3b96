package prerender

import (
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Meta is the SEO-relevant head of a rendered document
type Meta struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Canonical   string            `json:"canonical"`
	Robots      string            `json:"robots,omitempty"`
	OpenGraph   map[string]string `json:"open_graph,omitempty"`
	JSONLD      []string          `json:"json_ld,omitempty"`
	H1          []string          `json:"h1,omitempty"`
	Links       int               `json:"links"`

	// StatusCode comes from <meta name="prerender-status-code">, a
	// convention SPAs use to tell prerenderers a route is missing
	StatusCode int `json:"status_code,omitempty"`
}

// ExtractMeta reads title, description, canonical and related tags from an
// HTML document
func ExtractMeta(r io.Reader) (*Meta, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	meta := &Meta{OpenGraph: make(map[string]string)}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if meta.Title == "" {
					meta.Title = strings.TrimSpace(textContent(n))
				}
			case "meta":
				readMetaTag(meta, n)
			case "link":
				if strings.EqualFold(attr(n, "rel"), "canonical") && meta.Canonical == "" {
					meta.Canonical = attr(n, "href")
				}
			case "script":
				if attr(n, "type") == "application/ld+json" {
					meta.JSONLD = append(meta.JSONLD, strings.TrimSpace(textContent(n)))
				}
			case "h1":
				meta.H1 = append(meta.H1, strings.Join(strings.Fields(textContent(n)), " "))
			case "a":
				if attr(n, "href") != "" {
					meta.Links++
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return meta, nil
}

func readMetaTag(meta *Meta, n *html.Node) {
	content := attr(n, "content")
	switch name := strings.ToLower(attr(n, "name")); name {
	case "description":
		meta.Description = content
	case "robots":
		meta.Robots = content
	case "prerender-status-code":
		if code, err := strconv.Atoi(strings.TrimSpace(content)); err == nil {
			meta.StatusCode = code
		}
	}
	if prop := attr(n, "property"); strings.HasPrefix(prop, "og:") {
		meta.OpenGraph[strings.TrimPrefix(prop, "og:")] = content
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
