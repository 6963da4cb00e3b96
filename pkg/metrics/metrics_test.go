package metrics

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	m := New()
	router := mux.NewRouter()
	router.Use(m.Middleware)
	router.HandleFunc("/api/public/promises/{slug}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	})

	for _, slug := range []string{"rent-freeze", "free-buses"} {
		req := httptest.NewRequest(http.MethodGet, "/api/public/promises/"+slug, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/public/promises/{slug}", "404"))
	if got != 2 {
		t.Errorf("expected 2 requests on the templated route, got %v", got)
	}
	if n := testutil.CollectAndCount(m.requests); n != 1 {
		t.Errorf("expected a single label set, got %d", n)
	}
	if sent := testutil.ToFloat64(m.responseBytes.WithLabelValues("GET", "/api/public/promises/{slug}")); sent != 42 {
		t.Errorf("expected 42 response bytes, got %v", sent)
	}
}

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordBot("googlebot")
	m.RecordBot("googlebot")
	m.RecordPrerender(PrerenderMiss, 0)
	m.RecordImport("promises", 3, 1, 2)
	m.RecordLogin(false)
	m.RecordPurge()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"bot", testutil.ToFloat64(m.botRequests.WithLabelValues("googlebot")), 2},
		{"prerender", testutil.ToFloat64(m.prerender.WithLabelValues(PrerenderMiss)), 1},
		{"import created", testutil.ToFloat64(m.imports.WithLabelValues("promises", "created")), 3},
		{"import skipped", testutil.ToFloat64(m.imports.WithLabelValues("promises", "skipped")), 2},
		{"login", testutil.ToFloat64(m.logins.WithLabelValues("failure")), 1},
		{"purge", testutil.ToFloat64(m.purges), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	if !strings.Contains(buf.String(), `tracker_bot_requests_total{crawler="googlebot"} 2`) {
		t.Errorf("text dump missing bot counter:\n%s", buf.String())
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tracker_uptime_seconds") {
		t.Error("uptime gauge missing from exposition")
	}
}

func TestContentCollector(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.CreatePromise(ctx, &models.Promise{ID: "p1", Slug: "a", Headline: "A", Status: models.PromiseFulfilled,
		Editorial: models.Editorial{EditorialState: models.StatePublished}})
	s.CreatePromise(ctx, &models.Promise{ID: "p2", Slug: "b", Headline: "B", Status: models.PromiseBroken,
		Editorial: models.Editorial{EditorialState: models.StateDraft}})

	c := NewContentCollector(s)
	expected := `
# HELP tracker_content_promises_by_status Published promises by progress status
# TYPE tracker_content_promises_by_status gauge
tracker_content_promises_by_status{status="broken"} 0
tracker_content_promises_by_status{status="fulfilled"} 1
tracker_content_promises_by_status{status="in_progress"} 0
tracker_content_promises_by_status{status="not_started"} 0
tracker_content_promises_by_status{status="partially_fulfilled"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "tracker_content_promises_by_status"); err != nil {
		t.Error(err)
	}
	if n := testutil.CollectAndCount(c, "tracker_content_items"); n != 6 {
		t.Errorf("expected 6 kind/state series, got %d", n)
	}
}

type failingStats struct{}

func (failingStats) ContentStats(ctx context.Context) (*models.ContentStats, error) {
	return nil, errors.New("database is locked")
}

func TestContentCollectorReportsScrapeError(t *testing.T) {
	c := NewContentCollector(failingStats{})
	expected := `
# HELP tracker_content_scrape_error 1 if reading content stats failed during this scrape
# TYPE tracker_content_scrape_error gauge
tracker_content_scrape_error 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "tracker_content_scrape_error"); err != nil {
		t.Error(err)
	}
}

func TestParseAndFlatten(t *testing.T) {
	m := New()
	m.RecordBot("bingbot")
	m.RecordBot("googlebot")
	m.RecordBot("googlebot")
	m.RecordPrerender(PrerenderMiss, 40*time.Millisecond)

	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	families, err := ParseText(&buf)
	if err != nil {
		t.Fatalf("ParseText failed: %v", err)
	}

	bots := Flatten(families, "tracker_bot_requests")
	want := []Sample{
		{Name: "tracker_bot_requests_total", Labels: "crawler=bingbot", Value: 1},
		{Name: "tracker_bot_requests_total", Labels: "crawler=googlebot", Value: 2},
	}
	if diff := cmp.Diff(want, bots); diff != "" {
		t.Errorf("bot samples mismatch (-want +got):\n%s", diff)
	}

	var sawCount bool
	for _, s := range Flatten(families, "tracker_") {
		if strings.HasSuffix(s.Name, "_count") && strings.Contains(s.Name, "render") {
			sawCount = s.Value == 1
		}
	}
	if !sawCount {
		t.Error("render histogram count not flattened")
	}
}

func TestParseTextRejectsGarbage(t *testing.T) {
	if _, err := ParseText(strings.NewReader("tracker_x{ 1\n")); err == nil {
		t.Fatal("expected parse error")
	}
}
