package api

import (
	"errors"
	"net/http"

	"github.com/mamdani-tracker/tracker/pkg/auth"
	"github.com/mamdani-tracker/tracker/pkg/authctx"
	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/ratelimit"
	"github.com/mamdani-tracker/tracker/pkg/rbac"
)

// MeResponse describes the caller
type MeResponse struct {
	Principal   *authctx.Principal  `json:"principal"`
	User        *models.User        `json:"user,omitempty"`
	Permissions []models.Permission `json:"permissions"`
}

// Login exchanges email and password for a bearer token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.auth.Login(r.Context(), models.NormalizeEmail(req.Email), req.Password, ratelimit.IPKeyFunc(r), r.UserAgent())
	if h.metrics != nil {
		h.metrics.RecordLogin(err == nil)
	}
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
		return
	case errors.Is(err, auth.ErrUserSuspended):
		writeError(w, http.StatusForbidden, "user_suspended", err.Error())
		return
	case err != nil:
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout ends the caller's session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, err := authctx.PrincipalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	if err := h.auth.Logout(r.Context(), p); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated principal and its permissions
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := authctx.PrincipalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	resp := MeResponse{Principal: p, Permissions: rbac.GetUserPermissions(r.Context())}
	if p.Method == authctx.MethodSession {
		user, err := h.store.GetUser(r.Context(), p.UserID)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		resp.User = user
	}
	writeJSON(w, http.StatusOK, resp)
}
