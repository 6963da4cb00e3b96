package botdetect

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCrawlerName(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", "googlebot"},
		{"Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)", "bingbot"},
		{"facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)", "facebook"},
		{"Twitterbot/1.0", "twitter"},
		{"Slackbot-LinkExpanding 1.0 (+https://api.slack.com/robots)", "slack"},
		{"Mozilla/5.0 AppleWebKit/537.36 (KHTML, like Gecko; compatible; GPTBot/1.2; +https://openai.com/gptbot)", "openai"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15", ""},
		{"curl/8.6.0", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CrawlerName(tt.ua); got != tt.want {
			t.Errorf("CrawlerName(%q) = %q, want %q", tt.ua, got, tt.want)
		}
	}
}

func TestIsPrerenderable(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/promises", true},
		{"/promises/rent-freeze", true},
		{"/first-100-days", true},
		{"/api", false},
		{"/api/public/promises", false},
		{"/admin/promises", false},
		{"/assets/index-3f2a.js", false},
		{"/favicon.ico", false},
		{"/sitemap.xml", false},
		{"/robots.txt", false},
		{"/logo.SVG", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsPrerenderable(tt.path); got != tt.want {
			t.Errorf("IsPrerenderable(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDecide(t *testing.T) {
	const googlebot = "Mozilla/5.0 (compatible; Googlebot/2.1)"
	tests := []struct {
		name    string
		method  string
		target  string
		ua      string
		header  string
		want    bool
		crawler string
	}{
		{"bot on page", http.MethodGet, "/promises", googlebot, "", true, "googlebot"},
		{"bot HEAD", http.MethodHead, "/", googlebot, "", true, "googlebot"},
		{"bot POST", http.MethodPost, "/promises", googlebot, "", false, ""},
		{"bot on asset", http.MethodGet, "/assets/app.js", googlebot, "", false, ""},
		{"browser", http.MethodGet, "/promises", "Mozilla/5.0 Firefox/128.0", "", false, ""},
		{"escaped fragment", http.MethodGet, "/promises?_escaped_fragment_=", "Mozilla/5.0 Firefox/128.0", "", true, "forced"},
		{"force header", http.MethodGet, "/indicators", "curl/8.6.0", "1", true, "forced"},
		{"force header on api", http.MethodGet, "/api/public/stats", "curl/8.6.0", "1", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			req.Header.Set("User-Agent", tt.ua)
			if tt.header != "" {
				req.Header.Set("X-Prerender-Force", tt.header)
			}
			got := Decide(req)
			if got.Prerender != tt.want || got.Crawler != tt.crawler {
				t.Errorf("Decide = %+v, want prerender=%v crawler=%q", got, tt.want, tt.crawler)
			}
		})
	}
}
