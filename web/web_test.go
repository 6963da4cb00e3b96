package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func testFiles() fstest.MapFS {
	return fstest.MapFS{
		"index.html":         {Data: []byte("<div id=root></div>")},
		"assets/app-3f2a.js": {Data: []byte("console.log(1)")},
		"favicon.ico":        {Data: []byte{0, 0, 1, 0}},
	}
}

func TestHandler(t *testing.T) {
	h := Handler(testFiles())

	tests := []struct {
		name         string
		method       string
		path         string
		code         int
		body         string
		cacheControl string
	}{
		{"root", http.MethodGet, "/", http.StatusOK, "<div id=root></div>", "no-cache"},
		{"client route", http.MethodGet, "/promises/rent-freeze", http.StatusOK, "<div id=root></div>", "no-cache"},
		{"hashed asset", http.MethodGet, "/assets/app-3f2a.js", http.StatusOK, "console.log(1)", "public, max-age=31536000, immutable"},
		{"top-level file", http.MethodGet, "/favicon.ico", http.StatusOK, "", "public, max-age=3600"},
		{"missing asset", http.MethodGet, "/assets/gone.js", http.StatusNotFound, "", ""},
		{"post", http.MethodPost, "/", http.StatusMethodNotAllowed, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
			if tt.cacheControl != "" {
				assert.Equal(t, tt.cacheControl, rec.Header().Get("Cache-Control"))
			}
		})
	}
}

func TestEmbeddedBuildHasIndex(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(FS()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/about", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<div id="root"></div>`)
}
