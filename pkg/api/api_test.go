package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamdani-tracker/tracker/pkg/auth"
	"github.com/mamdani-tracker/tracker/pkg/csvimport"
	"github.com/mamdani-tracker/tracker/pkg/metrics"
	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

const adminKey = "test-admin-key"

type fakeCache struct {
	mu     sync.Mutex
	purges int
}

func (c *fakeCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purges++
	return 3
}

func (c *fakeCache) PurgePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purges++
	return 1
}

func (c *fakeCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purges
}

type testServer struct {
	router  *mux.Router
	store   *store.MemoryStore
	auth    *auth.Service
	cache   *fakeCache
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	keys := auth.NewAPIKeyManager()
	keys.AddAPIKey(adminKey, "ci")
	svc := auth.NewService(s, keys, 0, nil)
	cache := &fakeCache{}
	m := metrics.New()

	h := NewHandler(Config{Store: s, Auth: svc, Cache: cache, Metrics: m, Version: "test"})
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return &testServer{router: router, store: s, auth: svc, cache: cache, metrics: m}
}

func (ts *testServer) do(t *testing.T, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// login provisions a user with the given role and returns a session token
func (ts *testServer) login(t *testing.T, email string, role models.Role) (string, *models.User) {
	t.Helper()
	const password = "correct-horse-battery"
	user, _, err := ts.auth.ProvisionUser(context.Background(), models.UserRequest{Email: email, Password: password, Role: role})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token, user
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestPublicListsAreEmptyArrays(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/api/public/promises", "/api/public/indicators", "/api/public/timeline"} {
		rec := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "[]\n", rec.Body.String(), path)
	}
}

func TestContentWorkflow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/cms/promises", adminKey, map[string]interface{}{
		"headline":        "Fast and Free Buses",
		"category":        "Transit",
		"editorial_state": "published",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[models.Promise](t, rec)
	assert.Equal(t, "fast-and-free-buses", first.Slug)
	assert.Equal(t, models.StateDraft, first.EditorialState)
	assert.Equal(t, models.PromiseNotStarted, first.Status)
	assert.NotEmpty(t, first.ID)

	rec = ts.do(t, http.MethodPost, "/api/cms/promises", adminKey, map[string]string{"headline": "Fast and free buses!"})
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[models.Promise](t, rec)
	assert.Equal(t, "fast-and-free-buses-2", second.Slug)

	rec = ts.do(t, http.MethodPost, "/api/cms/promises", adminKey, map[string]string{"category": "Transit"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", errResp.Error)
	assert.Equal(t, "headline", errResp.Field)

	// drafts stay private
	rec = ts.do(t, http.MethodGet, "/api/public/promises/fast-and-free-buses", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, ts.cache.count())

	rec = ts.do(t, http.MethodPost, "/api/cms/promises/"+first.ID+"/publish", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	published := decode[models.Promise](t, rec)
	assert.Equal(t, models.StatePublished, published.EditorialState)
	assert.NotNil(t, published.PublishedAt)
	assert.Equal(t, 1, ts.cache.count())

	rec = ts.do(t, http.MethodPost, "/api/cms/promises/"+first.ID+"/publish", adminKey, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/public/promises", "", nil)
	public := decode[[]models.Promise](t, rec)
	require.Len(t, public, 1)
	assert.Equal(t, first.ID, public[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/cms/promises?state=draft", adminKey, nil)
	drafts := decode[[]models.Promise](t, rec)
	require.Len(t, drafts, 1)
	assert.Equal(t, second.ID, drafts[0].ID)

	// editing a published row keeps it published and purges the cache
	rec = ts.do(t, http.MethodPut, "/api/cms/promises/"+first.ID, adminKey, map[string]string{
		"headline": "Fast and Free Buses",
		"status":   "in_progress",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.Promise](t, rec)
	assert.Equal(t, models.StatePublished, updated.EditorialState)
	assert.Equal(t, "fast-and-free-buses", updated.Slug)
	assert.Equal(t, 2, ts.cache.count())

	rec = ts.do(t, http.MethodPut, "/api/cms/promises/"+second.ID, adminKey, map[string]string{
		"headline": "Fast and free buses!",
		"slug":     "fast-and-free-buses",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/cms/promises/reorder", adminKey, ReorderRequest{IDs: []string{second.ID, first.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodGet, "/api/cms/promises", adminKey, nil)
	all := decode[[]models.Promise](t, rec)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	rec = ts.do(t, http.MethodPost, "/api/cms/promises/reorder", adminKey, ReorderRequest{IDs: []string{"nope"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/cms/promises/"+first.ID+"/unpublish", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/cms/promises/"+first.ID, adminKey, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/cms/promises/"+first.ID, adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicPromiseDetail(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	promise := &models.Promise{ID: "p1", Slug: "rent-freeze", Headline: "Rent Freeze", Status: models.PromiseInProgress,
		Editorial: models.Editorial{EditorialState: models.StatePublished}}
	require.NoError(t, ts.store.CreatePromise(ctx, promise))
	require.NoError(t, ts.store.CreateIndicator(ctx, &models.Indicator{ID: "i1", Slug: "rents", Name: "Median rent",
		RelatedPromise: "rent  freeze", Editorial: models.Editorial{EditorialState: models.StatePublished}}))
	require.NoError(t, ts.store.CreateIndicator(ctx, &models.Indicator{ID: "i2", Slug: "draft", Name: "Draft metric",
		RelatedPromise: "Rent Freeze", Editorial: models.Editorial{EditorialState: models.StateDraft}}))
	require.NoError(t, ts.store.CreateTimelineEntry(ctx, &models.TimelineEntry{ID: "t1", Slug: "day-1", Day: 1, Title: "Board vote",
		RelatedPromise: "Rent Freeze", Editorial: models.Editorial{EditorialState: models.StatePublished}}))

	rec := ts.do(t, http.MethodGet, "/api/public/promises/rent-freeze", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[struct {
		Headline   string                 `json:"headline"`
		Indicators []models.Indicator     `json:"indicators"`
		Timeline   []models.TimelineEntry `json:"timeline"`
	}](t, rec)
	assert.Equal(t, "Rent Freeze", detail.Headline)
	require.Len(t, detail.Indicators, 1)
	assert.Equal(t, "i1", detail.Indicators[0].ID)
	require.Len(t, detail.Timeline, 1)

	rec = ts.do(t, http.MethodGet, "/api/public/stats", "", nil)
	stats := decode[PublicStats](t, rec)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.PromiseInProgress])

	rec = ts.do(t, http.MethodGet, "/api/public/promises?status=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const importCSV = "Headline,Category,Status\n" +
	"Rent Freeze,Housing,in progress\n" +
	"Fast and Free Buses,Transit,\n" +
	",Missing,\n"

func TestImport(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/cms/promises/import?dry_run=true", adminKey, importCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[csvimport.Report](t, rec)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 4, report.Errors[0].Line)
	assert.Equal(t, 0, ts.cache.count())

	rec = ts.do(t, http.MethodGet, "/api/cms/promises", adminKey, nil)
	assert.Equal(t, "[]\n", rec.Body.String())

	// multipart upload, published
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "promises.csv")
	require.NoError(t, err)
	io.WriteString(part, importCSV)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/cms/promises/import?publish=true", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+adminKey)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report = decode[csvimport.Report](t, rec)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, ts.cache.count())

	rec = ts.do(t, http.MethodGet, "/api/public/promises", "", nil)
	assert.Len(t, decode[[]models.Promise](t, rec), 2)

	// second run matches by headline and updates
	rec = ts.do(t, http.MethodPost, "/api/cms/promises/import", adminKey, importCSV)
	report = decode[csvimport.Report](t, rec)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 2, report.Updated)

	rec = ts.do(t, http.MethodPost, "/api/cms/promises/import", adminKey, "Category\nHousing\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_csv", decode[ErrorResponse](t, rec).Error)
}

func TestImportRejectsOversizedUpload(t *testing.T) {
	s := store.NewMemoryStore()
	keys := auth.NewAPIKeyManager()
	keys.AddAPIKey(adminKey, "ci")
	h := NewHandler(Config{Store: s, Auth: auth.NewService(s, keys, 0, nil), MaxUploadMiB: 1})
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	body := "headline\n" + strings.Repeat("Rent freeze\n", 100000)
	req := httptest.NewRequest(http.MethodPost, "/api/cms/promises/import?dry_run=true", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, "payload_too_large", decode[ErrorResponse](t, rec).Error)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "promises.csv")
	require.NoError(t, err)
	io.WriteString(part, body)
	require.NoError(t, mw.Close())

	req = httptest.NewRequest(http.MethodPost, "/api/cms/promises/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+adminKey)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())

	rows, err := s.ListPromises(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAuthAndPermissions(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/cms/promises", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	viewer, _ := ts.login(t, "viewer@example.com", models.RoleViewer)
	rec = ts.do(t, http.MethodGet, "/api/cms/promises", viewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/cms/promises", viewer, map[string]string{"headline": "Nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/cms/users", viewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/auth/me", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[MeResponse](t, rec)
	assert.Equal(t, models.RoleViewer, me.Principal.Role)
	require.NotNil(t, me.User)
	assert.Equal(t, "viewer@example.com", me.User.Email)

	rec = ts.do(t, http.MethodPost, "/api/auth/logout", viewer, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/auth/me", viewer, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginFailures(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t, "editor@example.com", models.RoleEditor)

	wrong := ts.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: "editor@example.com", Password: "wrong-password"})
	unknown := ts.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: "ghost@example.com", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())

	suspended := "suspended"
	_, user := ts.login(t, "former@example.com", models.RoleEditor)
	rec := ts.do(t, http.MethodPut, "/api/cms/users/"+user.ID, adminKey, UserUpdateRequest{Status: &suspended})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: "former@example.com", Password: "correct-horse-battery"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUserProvisioning(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/cms/users", adminKey, models.UserRequest{Email: "New.Editor@Example.com", FullName: "New Editor"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[ProvisionResponse](t, rec)
	assert.Equal(t, "new.editor@example.com", created.User.Email)
	assert.Equal(t, models.RoleEditor, created.User.Role)
	require.NotEmpty(t, created.Password)
	assert.NotContains(t, rec.Body.String(), "password_hash")

	rec = ts.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: "new.editor@example.com", Password: created.Password})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/cms/users", adminKey, models.UserRequest{Email: "new.editor@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/cms/users", adminKey, models.UserRequest{Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	admin, self := ts.login(t, "admin@example.com", models.RoleAdmin)
	rec = ts.do(t, http.MethodDelete, "/api/cms/users/"+self.ID, admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	viewerRole := models.RoleViewer
	rec = ts.do(t, http.MethodPut, "/api/cms/users/"+self.ID, admin, UserUpdateRequest{Role: &viewerRole})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/cms/users/"+created.User.ID, admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/cms/users", admin, nil)
	users := decode[[]models.User](t, rec)
	assert.Len(t, users, 1)
}

func TestUpdateUserRejectedChangesNothing(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, editor := ts.login(t, "editor@example.com", models.RoleEditor)
	before, err := ts.store.GetUser(ctx, editor.ID)
	require.NoError(t, err)

	adminRole := models.RoleAdmin
	email := "renamed@example.com"
	short := "short"
	rec := ts.do(t, http.MethodPut, "/api/cms/users/"+editor.ID, adminKey, UserUpdateRequest{Role: &adminRole, Email: &email, Password: &short})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password", decode[ErrorResponse](t, rec).Field)

	after, err := ts.store.GetUser(ctx, editor.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	long := "a-much-longer-password"
	rec = ts.do(t, http.MethodPut, "/api/cms/users/"+editor.ID, adminKey, UserUpdateRequest{Role: &adminRole, Password: &long})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.RoleAdmin, decode[models.User](t, rec).Role)

	rec = ts.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: "editor@example.com", Password: long})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUserRoutesAreAdminOnly(t *testing.T) {
	ts := newTestServer(t)
	editor, _ := ts.login(t, "editor@example.com", models.RoleEditor)
	viewer, _ := ts.login(t, "viewer@example.com", models.RoleViewer)

	for _, token := range []string{editor, viewer} {
		rec := ts.do(t, http.MethodGet, "/api/cms/users", token, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Insufficient role", decode[ErrorResponse](t, rec).Message)

		rec = ts.do(t, http.MethodGet, "/api/cms/stats", token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/cms/users", adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.User](t, rec), 2)
}

func TestOpsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)

	rec = ts.do(t, http.MethodPost, "/api/cms/cache/purge", adminKey, nil)
	assert.Equal(t, map[string]int{"purged": 3}, decode[map[string]int](t, rec))
	rec = ts.do(t, http.MethodPost, "/api/cms/cache/purge?prefix=/promises", adminKey, nil)
	assert.Equal(t, map[string]int{"purged": 1}, decode[map[string]int](t, rec))

	rec = ts.do(t, http.MethodGet, "/api/cms/metrics", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tracker_prerender_cache_purges_total 2")
}
