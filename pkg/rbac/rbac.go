package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/mamdani-tracker/tracker/pkg/authctx"
	"github.com/mamdani-tracker/tracker/pkg/models"
)

var ErrPermissionDenied = errors.New("permission denied")

// HasPermission checks if the current user has a specific permission
func HasPermission(ctx context.Context, perm models.Permission) bool {
	role := authctx.GetUserRole(ctx)
	if role == "" {
		return false
	}
	return role.HasPermission(perm)
}

// RequirePermission middleware that checks for a specific permission
func RequirePermission(perm models.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasPermission(r.Context(), perm) {
				forbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission middleware that checks for any of the given permissions
func RequireAnyPermission(perms ...models.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, perm := range perms {
				if HasPermission(r.Context(), perm) {
					next.ServeHTTP(w, r)
					return
				}
			}
			forbidden(w, "Insufficient permissions")
		})
	}
}

// RequireRole middleware that checks for a specific role
func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authctx.GetUserRole(r.Context()) != role {
				forbidden(w, "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminOnly middleware that allows only admin users
func AdminOnly(next http.Handler) http.Handler {
	return RequireRole(models.RoleAdmin)(next)
}

// CheckPermission is a helper function to check permissions in handlers
func CheckPermission(ctx context.Context, perm models.Permission) error {
	if !HasPermission(ctx, perm) {
		return ErrPermissionDenied
	}
	return nil
}

// GetUserPermissions returns all permissions for the current user
func GetUserPermissions(ctx context.Context) []models.Permission {
	role := authctx.GetUserRole(ctx)
	if role == "" {
		return nil
	}
	return role.GetPermissions()
}

func forbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error":"forbidden","message":"` + message + `"}`))
}
