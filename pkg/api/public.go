package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

// PromiseDetail is a published promise with the rows that reference it
type PromiseDetail struct {
	*models.Promise
	Indicators []*models.Indicator     `json:"indicators"`
	Timeline   []*models.TimelineEntry `json:"timeline"`
}

// PublicStats summarises published promises
type PublicStats struct {
	Total    int                          `json:"total"`
	ByStatus map[models.PromiseStatus]int `json:"by_status"`
}

// filterFromQuery reads category, status and q. The status is normalised
// the same way CSV imports are.
func filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		Category: strings.TrimSpace(q.Get("category")),
		Query:    strings.TrimSpace(q.Get("q")),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParsePromiseStatus(raw)
		if err != nil {
			return f, &models.ValidationError{Field: "status", Message: err.Error()}
		}
		f.Status = status
	}
	if raw := q.Get("state"); raw != "" {
		state := models.EditorialState(strings.ToLower(raw))
		if !state.IsValid() {
			return f, &models.ValidationError{Field: "state", Message: "state must be draft or published"}
		}
		f.EditorialState = state
	}
	return f, nil
}

// ListPublicPromises returns published promises in display order
func (h *Handler) ListPublicPromises(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	f.EditorialState = models.StatePublished

	promises, err := h.store.ListPromises(r.Context(), f)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if promises == nil {
		promises = []*models.Promise{}
	}
	writeJSON(w, http.StatusOK, promises)
}

// GetPublicPromise returns one published promise with its indicators and
// timeline entries
func (h *Handler) GetPublicPromise(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	promise, err := h.store.GetPromiseBySlug(ctx, mux.Vars(r)["slug"])
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if !promise.EditorialState.IsPublic() {
		h.writeStoreError(w, r, store.ErrNotFound)
		return
	}

	indicators, err := h.store.ListIndicators(ctx, store.Published())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	entries, err := h.store.ListTimelineEntries(ctx, store.Published())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	detail := PromiseDetail{
		Promise:    promise,
		Indicators: []*models.Indicator{},
		Timeline:   []*models.TimelineEntry{},
	}
	self := []*models.Promise{promise}
	for _, ind := range indicators {
		if models.ResolveRelatedPromise(ind.RelatedPromise, self) != nil {
			detail.Indicators = append(detail.Indicators, ind)
		}
	}
	for _, e := range entries {
		if models.ResolveRelatedPromise(e.RelatedPromise, self) != nil {
			detail.Timeline = append(detail.Timeline, e)
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListPublicIndicators returns published indicators
func (h *Handler) ListPublicIndicators(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	f.EditorialState = models.StatePublished
	f.Status = ""

	indicators, err := h.store.ListIndicators(r.Context(), f)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if indicators == nil {
		indicators = []*models.Indicator{}
	}
	writeJSON(w, http.StatusOK, indicators)
}

// ListPublicTimeline returns published timeline entries
func (h *Handler) ListPublicTimeline(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListTimelineEntries(r.Context(), store.Published())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.TimelineEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// PublicStats counts published promises by status
func (h *Handler) PublicStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.ContentStats(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	resp := PublicStats{ByStatus: stats.PromisesByStatus}
	for _, n := range stats.PromisesByStatus {
		resp.Total += n
	}
	writeJSON(w, http.StatusOK, resp)
}
