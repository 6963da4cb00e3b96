package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamdani-tracker/tracker/internal/config"
	"github.com/mamdani-tracker/tracker/pkg/edge"
	"github.com/mamdani-tracker/tracker/pkg/logging"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Addr = ":8080"
	cfg.Site.Name = "Mamdani Tracker"
	cfg.Site.BaseURL = "https://tracker.test"
	cfg.Prerender.Enabled = true
	cfg.Prerender.Mode = "store"
	cfg.Prerender.RenderTimeout = 5 * time.Second
	cfg.Cache.TTL = time.Minute
	return cfg
}

func TestSiteHandler(t *testing.T) {
	cache := edge.NewMemoryCache(edge.CacheConfig{TTL: time.Minute, JanitorInterval: time.Hour})
	defer cache.Close()

	site, err := siteHandler(testConfig(), store.NewMemoryStore(), cache, nil, logging.Nop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/promises", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	rec := httptest.NewRecorder()
	site.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, edge.StatusMiss, rec.Header().Get(edge.HeaderPrerender))

	req = httptest.NewRequest(http.MethodGet, "/promises", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) Safari/605.1.15")
	rec = httptest.NewRecorder()
	site.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(edge.HeaderPrerender))
	assert.Contains(t, rec.Body.String(), `<div id="root"></div>`)
}

func TestSiteHandlerWithoutPrerender(t *testing.T) {
	cfg := testConfig()
	cfg.Prerender.Enabled = false
	site, err := siteHandler(cfg, store.NewMemoryStore(), nil, nil, logging.Nop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "Googlebot/2.1")
	rec := httptest.NewRecorder()
	site.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get(edge.HeaderPrerender))
}

func TestLocalOrigin(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "http://127.0.0.1:8080", localOrigin(cfg))
	cfg.TLS.Enabled = true
	cfg.Server.Addr = "tracker.internal:8443"
	assert.Equal(t, "https://tracker.internal:8443", localOrigin(cfg))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, err := openStore(ctx, config.DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "tracker.db")}, logging.Nop())
	require.NoError(t, err)
	assert.NoError(t, st.HealthCheck())
	require.NoError(t, st.Close())

	start := time.Now()
	_, err = openStore(ctx, config.DatabaseConfig{Type: "mongodb"}, logging.Nop())
	assert.ErrorIs(t, err, store.ErrUnsupportedDatabase)
	assert.Less(t, time.Since(start), time.Second, "configuration errors are not retried")
}
