// Package api serves the public JSON API and the authenticated CMS API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mamdani-tracker/tracker/pkg/auth"
	"github.com/mamdani-tracker/tracker/pkg/csvimport"
	"github.com/mamdani-tracker/tracker/pkg/logging"
	"github.com/mamdani-tracker/tracker/pkg/metrics"
	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/ratelimit"
	"github.com/mamdani-tracker/tracker/pkg/rbac"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

// CacheInvalidator drops prerendered pages after content changes
type CacheInvalidator interface {
	Purge() int
	PurgePrefix(prefix string) int
}

// Config holds the handler's collaborators. Cache, Metrics and the
// limiters are optional.
type Config struct {
	Store        store.Store
	Auth         *auth.Service
	Cache        CacheInvalidator
	Metrics      *metrics.Metrics
	Logger       *logging.Logger
	PublicLimit  *ratelimit.Limiter
	LoginLimit   *ratelimit.Limiter
	Version      string
	MaxUploadMiB int64
}

// Handler implements every /api route plus /health
type Handler struct {
	store       store.Store
	auth        *auth.Service
	cache       CacheInvalidator
	metrics     *metrics.Metrics
	logger      *logging.Logger
	importer    *csvimport.Importer
	publicLimit *ratelimit.Limiter
	loginLimit  *ratelimit.Limiter
	version     string
	maxUpload   int64
}

// NewHandler creates the API handler
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	maxUpload := cfg.MaxUploadMiB
	if maxUpload <= 0 {
		maxUpload = 10
	}
	return &Handler{
		store:       cfg.Store,
		auth:        cfg.Auth,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		logger:      logger.WithField("component", "api"),
		importer:    csvimport.NewImporter(cfg.Store, logger),
		publicLimit: cfg.PublicLimit,
		loginLimit:  cfg.LoginLimit,
		version:     cfg.Version,
		maxUpload:   maxUpload << 20,
	}
}

const kindPattern = "{kind:promises|indicators|timeline}"

// RegisterRoutes registers all API routes. Literal paths are registered
// before parameterised ones so /reorder never matches {id}.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")

	public := r.PathPrefix("/api/public").Subrouter()
	if h.publicLimit != nil {
		public.Use(h.publicLimit.Middleware(ratelimit.IPKeyFunc))
	}
	public.HandleFunc("/promises", h.ListPublicPromises).Methods("GET")
	public.HandleFunc("/promises/{slug}", h.GetPublicPromise).Methods("GET")
	public.HandleFunc("/indicators", h.ListPublicIndicators).Methods("GET")
	public.HandleFunc("/timeline", h.ListPublicTimeline).Methods("GET")
	public.HandleFunc("/stats", h.PublicStats).Methods("GET")

	var login http.Handler = http.HandlerFunc(h.Login)
	if h.loginLimit != nil {
		login = h.loginLimit.Middleware(ratelimit.IPKeyFunc)(login)
	}
	r.Handle("/api/auth/login", login).Methods("POST")
	r.Handle("/api/auth/logout", h.auth.Middleware(http.HandlerFunc(h.Logout))).Methods("POST")
	r.Handle("/api/auth/me", h.auth.Middleware(http.HandlerFunc(h.Me))).Methods("GET")

	cms := r.PathPrefix("/api/cms").Subrouter()
	cms.Use(h.auth.Middleware)
	perm := func(p models.Permission, fn http.HandlerFunc) http.Handler {
		return rbac.RequirePermission(p)(fn)
	}

	users := cms.PathPrefix("/users").Subrouter()
	users.Use(rbac.AdminOnly)
	users.Handle("", perm(models.PermUserRead, h.ListUsers)).Methods("GET")
	users.Handle("", perm(models.PermUserCreate, h.CreateUser)).Methods("POST")
	users.Handle("/{id}", perm(models.PermUserRead, h.GetUser)).Methods("GET")
	users.Handle("/{id}", perm(models.PermUserUpdate, h.UpdateUser)).Methods("PUT")
	users.Handle("/{id}", perm(models.PermUserDelete, h.DeleteUser)).Methods("DELETE")

	stats := rbac.RequireAnyPermission(models.PermContentRead, models.PermMetricsRead)
	cms.Handle("/stats", stats(http.HandlerFunc(h.CMSStats))).Methods("GET")
	cms.Handle("/cache/purge", perm(models.PermCachePurge, h.PurgeCache)).Methods("POST")
	cms.Handle("/metrics", perm(models.PermMetricsRead, h.Metrics)).Methods("GET")

	cms.Handle("/"+kindPattern, perm(models.PermContentRead, h.ListContent)).Methods("GET")
	cms.Handle("/"+kindPattern, perm(models.PermContentWrite, h.CreateContent)).Methods("POST")
	cms.Handle("/"+kindPattern+"/reorder", perm(models.PermContentWrite, h.ReorderContent)).Methods("POST")
	cms.Handle("/"+kindPattern+"/import", perm(models.PermContentImport, h.ImportContent)).Methods("POST")
	cms.Handle("/"+kindPattern+"/{id}", perm(models.PermContentRead, h.GetContent)).Methods("GET")
	cms.Handle("/"+kindPattern+"/{id}", perm(models.PermContentWrite, h.UpdateContent)).Methods("PUT")
	cms.Handle("/"+kindPattern+"/{id}", perm(models.PermContentWrite, h.DeleteContent)).Methods("DELETE")
	cms.Handle("/"+kindPattern+"/{id}/publish", perm(models.PermContentPublish, h.PublishContent)).Methods("POST")
	cms.Handle("/"+kindPattern+"/{id}/unpublish", perm(models.PermContentPublish, h.UnpublishContent)).Methods("POST")
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeStoreError maps domain errors to status codes. Anything unexpected
// is logged and reported as a 500 without internal detail.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *models.ValidationError
		tooBig *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooBig):
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", fmt.Sprintf("Upload exceeds %d bytes", tooBig.Limit))
	case errors.Is(err, rbac.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "forbidden", "Insufficient permissions")
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: verr.Message, Field: verr.Field})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "A record with this slug or email already exists")
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, csvimport.ErrEmpty), errors.Is(err, csvimport.ErrMissingColumn):
		writeError(w, http.StatusBadRequest, "invalid_csv", err.Error())
	default:
		h.logger.Error("Request failed", map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// invalidate drops cached crawler pages after published content changed
func (h *Handler) invalidate(reason string) {
	if h.cache == nil {
		return
	}
	n := h.cache.Purge()
	if h.metrics != nil {
		h.metrics.RecordPurge()
	}
	h.logger.Info("Prerender cache purged", map[string]interface{}{"reason": reason, "entries": n})
}
