// Package botdetect decides which requests come from crawlers and which
// paths have a prerendered representation.
package botdetect

import (
	"net/http"
	"path"
	"strings"
)

// crawler pairs a user-agent fragment with the name used in logs and metrics.
// Order matters: more specific fragments come first.
type crawler struct {
	fragment string
	name     string
}

var crawlers = []crawler{
	{"googlebot", "googlebot"},
	{"google-inspectiontool", "googlebot"},
	{"adsbot-google", "googlebot"},
	{"bingbot", "bingbot"},
	{"bingpreview", "bingbot"},
	{"yandex", "yandex"},
	{"baiduspider", "baidu"},
	{"duckduckbot", "duckduckgo"},
	{"slurp", "yahoo"},
	{"applebot", "applebot"},
	{"petalbot", "petalbot"},
	{"facebookexternalhit", "facebook"},
	{"facebot", "facebook"},
	{"meta-externalagent", "facebook"},
	{"twitterbot", "twitter"},
	{"linkedinbot", "linkedin"},
	{"slackbot", "slack"},
	{"discordbot", "discord"},
	{"telegrambot", "telegram"},
	{"whatsapp", "whatsapp"},
	{"redditbot", "reddit"},
	{"pinterest", "pinterest"},
	{"embedly", "embedly"},
	{"quora link preview", "quora"},
	{"skypeuripreview", "skype"},
	{"vkshare", "vk"},
	{"w3c_validator", "w3c"},
	{"gptbot", "openai"},
	{"chatgpt-user", "openai"},
	{"oai-searchbot", "openai"},
	{"claudebot", "anthropic"},
	{"perplexitybot", "perplexity"},
	{"ccbot", "commoncrawl"},
	{"ahrefsbot", "ahrefs"},
	{"semrushbot", "semrush"},
	{"mj12bot", "majestic"},
	{"screaming frog", "screamingfrog"},
	{"lighthouse", "lighthouse"},
}

// assetExtensions are never prerendered
var assetExtensions = map[string]bool{
	".js": true, ".mjs": true, ".css": true, ".map": true, ".json": true,
	".xml": true, ".txt": true, ".ico": true, ".png": true, ".jpg": true,
	".jpeg": true, ".gif": true, ".svg": true, ".webp": true, ".avif": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".pdf": true, ".csv": true, ".zip": true, ".mp4": true, ".webm": true,
	".mp3": true, ".wasm": true, ".webmanifest": true,
}

// excludedPrefixes are served by the origin even for crawlers
var excludedPrefixes = []string{"/api/", "/admin", "/cms", "/assets/", "/metrics", "/health"}

// CrawlerName returns the normalised name of the crawler that sent
// userAgent, or "" for browsers and unknown clients.
func CrawlerName(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return ""
	}
	for _, c := range crawlers {
		if strings.Contains(ua, c.fragment) {
			return c.name
		}
	}
	return ""
}

// IsBot reports whether userAgent belongs to a known crawler
func IsBot(userAgent string) bool {
	return CrawlerName(userAgent) != ""
}

// IsAsset reports whether the path names a static file
func IsAsset(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return ext != "" && assetExtensions[ext]
}

// IsPrerenderable reports whether a crawler visiting p should get
// prerendered HTML rather than the origin response
func IsPrerenderable(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") {
		return false
	}
	lower := strings.ToLower(p)
	if lower == "/api" {
		return false
	}
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return !IsAsset(lower)
}

// Decision describes how the edge should handle a request
type Decision struct {
	Prerender bool
	Crawler   string // "" for non-bots; "forced" when a debugging override applied
}

// Decide applies method, user-agent and route rules. The
// _escaped_fragment_ query parameter and the X-Prerender-Force header force
// the crawler path.
func Decide(r *http.Request) Decision {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return Decision{}
	}
	if !IsPrerenderable(r.URL.Path) {
		return Decision{}
	}

	name := CrawlerName(r.UserAgent())
	if name == "" && forced(r) {
		name = "forced"
	}
	return Decision{Prerender: name != "", Crawler: name}
}

func forced(r *http.Request) bool {
	if r.Header.Get("X-Prerender-Force") == "1" {
		return true
	}
	_, escaped := r.URL.Query()["_escaped_fragment_"]
	return escaped
}
