package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamdani-tracker/tracker/pkg/metrics"
)

// fakeAPI records what the CLI sent and answers like the tracker server
type fakeAPI struct {
	t        *testing.T
	lastAuth string
	lastCSV  string
	lastURL  string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastAuth = r.Header.Get("Authorization")
	f.lastURL = r.URL.String()
	writeJSON := func(status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/cms/promises":
		writeJSON(http.StatusOK, []map[string]interface{}{
			{"id": "p1", "slug": "fare-free-buses", "headline": "Fare-free buses", "editorial_state": "published", "display_order": 1},
			{"id": "p2", "slug": "rent-freeze", "headline": "Rent freeze", "editorial_state": "draft", "display_order": 2},
		})
	case r.Method == http.MethodPost && r.URL.Path == "/api/cms/promises/p2/publish":
		writeJSON(http.StatusOK, map[string]interface{}{"id": "p2", "slug": "rent-freeze", "headline": "Rent freeze", "editorial_state": "published"})
	case r.Method == http.MethodPost && r.URL.Path == "/api/cms/promises/p1/publish":
		writeJSON(http.StatusConflict, map[string]string{"error": "invalid_transition", "message": "promise is already published"})
	case r.Method == http.MethodPost && r.URL.Path == "/api/cms/indicators/import":
		body, _ := io.ReadAll(r.Body)
		f.lastCSV = string(body)
		assert.Equal(f.t, "text/csv", r.Header.Get("Content-Type"))
		writeJSON(http.StatusOK, map[string]interface{}{
			"kind": "indicators", "created": 1, "updated": 0, "skipped": 1,
			"dry_run": r.URL.Query().Get("dry_run") == "true",
			"errors":  []map[string]interface{}{{"line": 3, "field": "value", "message": "not a number"}},
		})
	case r.Method == http.MethodGet && r.URL.Path == "/api/cms/metrics":
		m := metrics.New()
		m.RecordBot("googlebot")
		m.RecordPurge()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m.WriteText(w)
	case r.URL.Path == "/sitemap.xml":
		io.WriteString(w, "<urlset></urlset>\n")
	case r.URL.Path == "/robots.txt":
		io.WriteString(w, "User-agent: *\nAllow: /\n")
	case r.URL.Path == "/promises/rent-freeze":
		w.Header().Set("X-Prerender", "HIT")
		io.WriteString(w, `<html><head><title>Rent freeze | Mamdani Tracker</title>
<meta name="description" content="Freeze the rent on stabilized units.">
<link rel="canonical" href="https://tracker.test/promises/rent-freeze">
<meta property="og:title" content="Rent freeze"></head>
<body><h1>Rent freeze</h1><a href="/promises">All promises</a></body></html>`)
	default:
		writeJSON(http.StatusNotFound, map[string]string{"error": "not_found", "message": "no route " + r.URL.Path})
	}
}

func runCLI(t *testing.T, api *fakeAPI, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	stdout = &out
	t.Cleanup(func() { stdout = os.Stdout })
	importDryRun, importPublish, importCheck = false, false, false
	listState, purgePrefix = "", ""

	rootCmd.SetArgs(append([]string{"--api-url", srv.URL, "--api-key", "test-key"}, args...))
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestContentList(t *testing.T) {
	api := &fakeAPI{t: t}
	out, err := runCLI(t, api, "-o", "table", "content", "list", "promises")
	require.NoError(t, err)
	assert.Contains(t, out, "fare-free-buses")
	assert.Contains(t, out, "Rent freeze")
	assert.Contains(t, out, "2 promises")
	assert.Equal(t, "Bearer test-key", api.lastAuth)

	out, err = runCLI(t, api, "-o", "json", "content", "list", "promises", "--state", "draft")
	require.NoError(t, err)
	assert.Equal(t, "/api/cms/promises?state=draft", api.lastURL)
	var rows []contentRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Len(t, rows, 2)

	_, err = runCLI(t, api, "-o", "table", "content", "list", "pledges")
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	api := &fakeAPI{t: t}
	out, err := runCLI(t, api, "-o", "table", "publish", "promises", "p2")
	require.NoError(t, err)
	assert.Equal(t, "promise \"Rent freeze\" is now published\n", out)

	_, err = runCLI(t, api, "-o", "table", "publish", "promises", "p1")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "invalid_transition", apiErr.Code)
	assert.Contains(t, err.Error(), "already published")
}

func TestImport(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "indicators.csv")
	csvBody := "name,value,unit\nBus speed,8.1,mph\nRidership,lots,riders\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csvBody), 0o600))

	api := &fakeAPI{t: t}
	out, err := runCLI(t, api, "-o", "table", "import", "indicators", csvPath, "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, csvBody, api.lastCSV)
	assert.Equal(t, "/api/cms/indicators/import?dry_run=true", api.lastURL)
	assert.Contains(t, out, "Validated indicators: 1 created, 0 updated, 1 skipped")
	assert.Contains(t, out, "not a number")
}

func TestImportCheckIsLocal(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "indicators.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("name,value,unit\nBus speed,8.1,mph\n"), 0o600))

	api := &fakeAPI{t: t}
	out, err := runCLI(t, api, "-o", "table", "import", "indicators", csvPath, "--check")
	require.NoError(t, err)
	assert.Empty(t, api.lastURL)
	assert.Contains(t, out, "Validated indicators: 1 created, 0 updated, 0 skipped")
}

func TestMetrics(t *testing.T) {
	api := &fakeAPI{t: t}
	out, err := runCLI(t, api, "-o", "json", "metrics", "--prefix", "tracker_bot")
	require.NoError(t, err)

	var samples []metrics.Sample
	require.NoError(t, json.Unmarshal([]byte(out), &samples))
	require.Len(t, samples, 1)
	assert.Equal(t, "tracker_bot_requests_total", samples[0].Name)
	assert.Equal(t, "crawler=googlebot", samples[0].Labels)
	assert.Equal(t, 1.0, samples[0].Value)
}

func TestSitemapWritesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "public")
	api := &fakeAPI{t: t}
	_, err := runCLI(t, api, "-o", "table", "sitemap", "--dir", dir)
	require.NoError(t, err)

	robots, err := os.ReadFile(filepath.Join(dir, "robots.txt"))
	require.NoError(t, err)
	assert.Equal(t, "User-agent: *\nAllow: /\n", string(robots))
	_, err = os.Stat(filepath.Join(dir, "sitemap.xml"))
	assert.NoError(t, err)
}

func TestPrerenderInspect(t *testing.T) {
	api := &fakeAPI{t: t}
	out, err := runCLI(t, api, "-o", "json", "prerender", "inspect", "promises/rent-freeze")
	require.NoError(t, err)

	var result inspectResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "/promises/rent-freeze", result.Path)
	assert.Equal(t, "HIT", result.Prerender)
	assert.Equal(t, "Rent freeze | Mamdani Tracker", result.Meta.Title)
	assert.Equal(t, "https://tracker.test/promises/rent-freeze", result.Meta.Canonical)
	assert.Equal(t, "Rent freeze", result.Meta.OpenGraph["title"])
	assert.Equal(t, 1, result.Meta.Links)
}
