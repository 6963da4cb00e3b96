package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mamdani-tracker/tracker/pkg/authctx"
	"github.com/mamdani-tracker/tracker/pkg/logging"
	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

// DefaultSessionTTL is used when no TTL is configured
const DefaultSessionTTL = 12 * time.Hour

// APIKeyUserID identifies requests made with a service API key
const APIKeyUserID = "api-key"

// Service authenticates CMS users against the store
type Service struct {
	store  store.Store
	keys   *APIKeyManager
	ttl    time.Duration
	logger *logging.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates an auth service. keys may be nil when no service API
// key is configured.
func NewService(s store.Store, keys *APIKeyManager, ttl time.Duration, logger *logging.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if keys == nil {
		keys = NewAPIKeyManager()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{store: s, keys: keys, ttl: ttl, logger: logger, now: time.Now}
}

// Login verifies credentials and opens a session. Unknown emails and wrong
// passwords return the same error.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (*models.LoginResponse, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Spend the same bcrypt time as a real comparison
		s.dummyOnce.Do(func() { s.dummyHash, _ = HashPassword("not-a-real-password") })
		CheckPassword(s.dummyHash, password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := CheckPassword(user.PasswordHash, password); err != nil {
		s.logger.Warn("Failed login", map[string]interface{}{"email": user.Email, "ip": ip})
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, ErrUserSuspended
	}

	token, hash, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &models.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := s.store.TouchLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("Failed to record login time", map[string]interface{}{"user_id": user.ID, "error": err})
	}
	user.LastLoginAt = &now

	s.logger.Info("User logged in", map[string]interface{}{"user_id": user.ID, "ip": ip})
	return &models.LoginResponse{Token: token, ExpiresAt: sess.ExpiresAt, User: *user}, nil
}

// Logout ends the principal's session. API key principals have none.
func (s *Service) Logout(ctx context.Context, p *authctx.Principal) error {
	if p.SessionID == "" {
		return nil
	}
	err := s.store.DeleteSession(ctx, p.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Authenticate resolves a bearer token to a principal
func (s *Service) Authenticate(ctx context.Context, token string) (*authctx.Principal, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	if desc, ok := s.keys.ValidateAPIKey(token); ok {
		return &authctx.Principal{
			UserID: APIKeyUserID,
			Email:  desc,
			Role:   models.RoleAdmin,
			Method: authctx.MethodAPIKey,
		}, nil
	}

	sess, err := s.store.GetSessionByTokenHash(ctx, HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if s.now().After(sess.ExpiresAt) {
		s.store.DeleteSession(ctx, sess.ID)
		return nil, ErrTokenExpired
	}

	user, err := s.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive() {
		return nil, ErrUserSuspended
	}

	return &authctx.Principal{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		SessionID: sess.ID,
		Method:    authctx.MethodSession,
	}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// principal in the request context
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.Authenticate(r.Context(), BearerToken(r))
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrUserSuspended) {
				status = http.StatusForbidden
			} else if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrTokenExpired) {
				s.logger.Error("Authentication failed", map[string]interface{}{"error": err})
				status = http.StatusInternalServerError
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="tracker"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"unauthorized","message":"` + err.Error() + `"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(authctx.WithPrincipal(r.Context(), p)))
	})
}

// BearerToken extracts the token from an Authorization header
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// ProvisionUser creates a CMS account. When req.Password is empty a
// password is generated and returned; it is not stored anywhere in clear.
func (s *Service) ProvisionUser(ctx context.Context, req models.UserRequest) (*models.User, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}

	password := req.Password
	generated := ""
	if password == "" {
		var err error
		if password, err = GeneratePassword(); err != nil {
			return nil, "", err
		}
		generated = password
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	status := req.Status
	if status == "" {
		status = models.UserStatusActive
	}
	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         req.Role,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	s.logger.Info("User provisioned", map[string]interface{}{"user_id": user.ID, "role": string(user.Role)})
	return user, generated, nil
}

// ApplyPassword checks the password length and stores its hash on user.
// The caller saves the user.
func (s *Service) ApplyPassword(user *models.User, password string) error {
	if len(password) < 10 {
		return &models.ValidationError{Field: "password", Message: "password must be at least 10 characters"}
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return nil
}

// EnsureAdmin creates the first admin account when the store has no users.
// It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	if email == "" {
		return false, nil
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	if len(users) > 0 {
		return false, nil
	}
	_, _, err = s.ProvisionUser(ctx, models.UserRequest{
		Email:    email,
		Password: password,
		FullName: "Administrator",
		Role:     models.RoleAdmin,
	})
	if err != nil {
		return false, fmt.Errorf("failed to bootstrap admin: %w", err)
	}
	return true, nil
}
