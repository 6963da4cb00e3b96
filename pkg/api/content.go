package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/slug"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

// ReorderRequest lists every id of a kind in the desired display order
type ReorderRequest struct {
	IDs []string `json:"ids"`
}

func kindVar(r *http.Request) (models.ContentKind, error) {
	kind, err := models.ParseContentKind(mux.Vars(r)["kind"])
	if err != nil {
		return "", &models.ValidationError{Field: "kind", Message: err.Error()}
	}
	return kind, nil
}

// ListContent lists rows of a kind in every editorial state
func (h *Handler) ListContent(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	f, err := filterFromQuery(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if kind != models.KindPromise {
		f.Status = ""
	}

	rows, err := store.ListContent(r.Context(), h.store, kind, f)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.Content{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetContent returns one row by id
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	row, err := store.GetContent(r.Context(), h.store, kind, mux.Vars(r)["id"])
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// uniqueSlug derives a slug from the requested one or the row's title and
// appends a numeric suffix until no other row of the kind uses it
func (h *Handler) uniqueSlug(ctx context.Context, kind models.ContentKind, c models.Content, excludeID string) (string, error) {
	base := slug.Make(c.GetSlug())
	if base == "" {
		base = slug.Make(c.DisplayTitle())
	}
	var lookupErr error
	s := slug.Unique(base, func(candidate string) bool {
		taken, err := h.store.SlugExists(ctx, kind, candidate, excludeID)
		if err != nil {
			lookupErr = err
		}
		return taken
	})
	return s, lookupErr
}

// CreateContent adds a draft row
func (h *Handler) CreateContent(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	row, err := store.NewContent(kind)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if !decodeJSON(w, r, row) {
		return
	}

	ctx := r.Context()
	meta := row.Meta()
	meta.EditorialState = models.StateDraft
	meta.PublishedAt = nil
	if err := store.ValidateContent(row); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	s, err := h.uniqueSlug(ctx, kind, row, "")
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	store.SetIdentity(row, uuid.NewString(), s)
	now := time.Now().UTC()
	meta.CreatedAt = now
	meta.UpdatedAt = now

	if err := store.CreateContent(ctx, h.store, row); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.logger.Info("Content created", map[string]interface{}{"kind": string(kind), "id": row.GetID(), "slug": s})
	writeJSON(w, http.StatusCreated, row)
}

// UpdateContent replaces the editable fields of a row. Editorial state and
// timestamps are kept; publishing has its own endpoints.
func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	existing, err := store.GetContent(ctx, h.store, kind, id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	row, _ := store.NewContent(kind)
	if !decodeJSON(w, r, row) {
		return
	}

	old := existing.Meta()
	meta := row.Meta()
	if meta.DisplayOrder == 0 {
		meta.DisplayOrder = old.DisplayOrder
	}
	meta.EditorialState = old.EditorialState
	meta.PublishedAt = old.PublishedAt
	meta.CreatedAt = old.CreatedAt
	meta.UpdatedAt = time.Now().UTC()
	if err := store.ValidateContent(row); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	newSlug := existing.GetSlug()
	if requested := strings.TrimSpace(row.GetSlug()); requested != "" && slug.Make(requested) != newSlug {
		newSlug = slug.Make(requested)
		taken, err := h.store.SlugExists(ctx, kind, newSlug, id)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		if taken || newSlug == "" {
			h.writeStoreError(w, r, &models.ValidationError{Field: "slug", Message: "slug is empty or already in use"})
			return
		}
	}
	store.SetIdentity(row, id, newSlug)

	if err := store.UpdateContent(ctx, h.store, row); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if old.EditorialState.IsPublic() {
		h.invalidate("update " + kind.Singular())
	}
	writeJSON(w, http.StatusOK, row)
}

// DeleteContent removes a row
func (h *Handler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	existing, err := store.GetContent(ctx, h.store, kind, id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if err := h.store.DeleteContent(ctx, kind, id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.logger.Info("Content deleted", map[string]interface{}{"kind": string(kind), "id": id})
	if existing.Meta().EditorialState.IsPublic() {
		h.invalidate("delete " + kind.Singular())
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublishContent makes a draft public
func (h *Handler) PublishContent(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.StatePublished)
}

// UnpublishContent returns a published row to draft
func (h *Handler) UnpublishContent(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.StateDraft)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, to models.EditorialState) {
	kind, err := kindVar(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if err := h.store.SetEditorialState(ctx, kind, id, to); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	row, err := store.GetContent(ctx, h.store, kind, id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.logger.Info("Editorial state changed", map[string]interface{}{"kind": string(kind), "id": id, "state": string(to)})
	h.invalidate(string(to) + " " + kind.Singular())
	writeJSON(w, http.StatusOK, row)
}

// ReorderContent sets display order from the position of each id
func (h *Handler) ReorderContent(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	var req ReorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		h.writeStoreError(w, r, &models.ValidationError{Field: "ids", Message: "ids must not be empty"})
		return
	}
	if err := h.store.Reorder(r.Context(), kind, req.IDs); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeStoreError(w, r, &models.ValidationError{Field: "ids", Message: "ids contains an unknown id"})
			return
		}
		h.writeStoreError(w, r, err)
		return
	}
	h.invalidate("reorder " + string(kind))
	writeJSON(w, http.StatusOK, map[string]int{"reordered": len(req.IDs)})
}
