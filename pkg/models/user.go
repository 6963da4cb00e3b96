package models

import (
	"net/mail"
	"strings"
	"time"
)

// Role represents a CMS user role
type Role string

const (
	RoleAdmin  Role = "admin"  // Full access including user management
	RoleEditor Role = "editor" // Can edit, import and publish content
	RoleViewer Role = "viewer" // Read-only CMS access
)

// Permission represents a specific permission
type Permission string

const (
	// Content permissions
	PermContentRead    Permission = "content:read"
	PermContentWrite   Permission = "content:write"
	PermContentPublish Permission = "content:publish"
	PermContentImport  Permission = "content:import"

	// User permissions
	PermUserCreate Permission = "user:create"
	PermUserRead   Permission = "user:read"
	PermUserUpdate Permission = "user:update"
	PermUserDelete Permission = "user:delete"

	// Operations
	PermMetricsRead Permission = "metrics:read"
	PermCachePurge  Permission = "cache:purge"
)

// User status values
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

// User represents a CMS account
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // Never expose in JSON
	FullName     string     `json:"full_name"`
	Role         Role       `json:"role"`
	Status       string     `json:"status"` // "active", "suspended"
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsActive reports whether the user may log in
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// UserRequest represents a request to create or update a user
type UserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"` // Generated when empty on creation
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
	Status   string `json:"status,omitempty"`
}

// Validate checks a provisioning request
func (r *UserRequest) Validate() error {
	r.Email = NormalizeEmail(r.Email)
	if _, err := mail.ParseAddress(r.Email); err != nil || r.Email == "" {
		return &ValidationError{Field: "email", Message: "a valid email is required"}
	}
	if r.Role == "" {
		r.Role = RoleEditor
	}
	if !r.Role.IsValid() {
		return &ValidationError{Field: "role", Message: "role must be admin, editor or viewer"}
	}
	if r.Password != "" && len(r.Password) < 10 {
		return &ValidationError{Field: "password", Message: "password must be at least 10 characters"}
	}
	switch r.Status {
	case "", UserStatusActive, UserStatusSuspended:
	default:
		return &ValidationError{Field: "status", Message: "status must be active or suspended"}
	}
	return nil
}

// NormalizeEmail lowercases and trims an address for lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// Session represents an authenticated session. Only the token hash is stored.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// RolePermissions maps roles to their permissions
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermContentRead, PermContentWrite, PermContentPublish, PermContentImport,
		PermUserCreate, PermUserRead, PermUserUpdate, PermUserDelete,
		PermMetricsRead, PermCachePurge,
	},
	RoleEditor: {
		PermContentRead, PermContentWrite, PermContentPublish, PermContentImport,
		PermMetricsRead, PermCachePurge,
	},
	RoleViewer: {
		PermContentRead,
		PermMetricsRead,
	},
}

// HasPermission checks if a role has a specific permission
func (r Role) HasPermission(perm Permission) bool {
	perms, ok := RolePermissions[r]
	if !ok {
		return false
	}

	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// GetPermissions returns all permissions for a role
func (r Role) GetPermissions() []Permission {
	return RolePermissions[r]
}

// IsValid checks if a role is valid
func (r Role) IsValid() bool {
	_, ok := RolePermissions[r]
	return ok
}
