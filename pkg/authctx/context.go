// Package authctx carries the authenticated CMS principal through request
// contexts.
package authctx

import (
	"context"
	"errors"

	"github.com/mamdani-tracker/tracker/pkg/models"
)

// Context keys for principal information
type contextKey string

const principalKey contextKey = "principal"

// Authentication methods recorded on a Principal
const (
	MethodSession = "session"
	MethodAPIKey  = "api_key"
)

var ErrNoPrincipal = errors.New("no authenticated principal in context")

// Principal is the caller behind a CMS request
type Principal struct {
	UserID    string      `json:"user_id"`
	Email     string      `json:"email,omitempty"`
	Role      models.Role `json:"role"`
	SessionID string      `json:"-"`
	Method    string      `json:"method"`
}

// WithPrincipal adds the principal to ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the principal from ctx
func PrincipalFrom(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey).(*Principal)
	if !ok || p == nil {
		return nil, ErrNoPrincipal
	}
	return p, nil
}

// GetUserID extracts the user ID from ctx
func GetUserID(ctx context.Context) (string, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}

// GetUserRole extracts the user role from ctx; empty when unauthenticated
func GetUserRole(ctx context.Context) models.Role {
	p, err := PrincipalFrom(ctx)
	if err != nil {
		return ""
	}
	return p.Role
}
