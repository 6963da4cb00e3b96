package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/mamdani-tracker/tracker/pkg/authctx"
	"github.com/mamdani-tracker/tracker/pkg/models"
)

// ProvisionResponse carries a generated password once; it cannot be
// retrieved later
type ProvisionResponse struct {
	User     *models.User `json:"user"`
	Password string       `json:"password,omitempty"`
}

// UserUpdateRequest changes only the fields that are present
type UserUpdateRequest struct {
	Email    *string      `json:"email,omitempty"`
	FullName *string      `json:"full_name,omitempty"`
	Role     *models.Role `json:"role,omitempty"`
	Status   *string      `json:"status,omitempty"`
	Password *string      `json:"password,omitempty"`
}

// ListUsers returns every CMS account
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// CreateUser provisions an account
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.UserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, generated, err := h.auth.ProvisionUser(r.Context(), req)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ProvisionResponse{User: user, Password: generated})
}

// GetUser returns one account
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateUser edits an account. Callers cannot suspend or demote themselves.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	user, err := h.store.GetUser(ctx, id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	var req UserUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	self, _ := authctx.GetUserID(ctx)
	if req.Email != nil {
		user.Email = models.NormalizeEmail(*req.Email)
	}
	if req.FullName != nil {
		user.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Role != nil && *req.Role != user.Role {
		if id == self {
			h.writeStoreError(w, r, &models.ValidationError{Field: "role", Message: "you cannot change your own role"})
			return
		}
		user.Role = *req.Role
	}
	if req.Status != nil && *req.Status != user.Status {
		if id == self {
			h.writeStoreError(w, r, &models.ValidationError{Field: "status", Message: "you cannot change your own status"})
			return
		}
		user.Status = *req.Status
	}

	check := models.UserRequest{Email: user.Email, FullName: user.FullName, Role: user.Role, Status: user.Status}
	if err := check.Validate(); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if req.Password != nil {
		if err := h.auth.ApplyPassword(user, *req.Password); err != nil {
			h.writeStoreError(w, r, err)
			return
		}
	}
	user.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateUser(ctx, user); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	h.logger.Info("User updated", map[string]interface{}{"user_id": id, "by": self})
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser removes an account and its sessions
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if self, _ := authctx.GetUserID(ctx); self == id {
		writeError(w, http.StatusConflict, "self_delete", "You cannot delete your own account")
		return
	}
	if err := h.store.DeleteUser(ctx, id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.logger.Info("User deleted", map[string]interface{}{"user_id": id})
	w.WriteHeader(http.StatusNoContent)
}
