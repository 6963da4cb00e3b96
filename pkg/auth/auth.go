package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserSuspended      = errors.New("user is suspended")
)

// GenerateToken returns a random bearer token and the hash to store for it
func GenerateToken() (token, hash string, err error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// HashToken returns the hex SHA-256 of a bearer token. Tokens carry 256
// bits of entropy so a fast hash is enough for lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashPassword hashes a password with bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a password with its bcrypt hash
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// GeneratePassword returns a random password for newly provisioned users
func GeneratePassword() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// APIKeyManager manages static service API keys
type APIKeyManager struct {
	keys map[string]string // key -> description
	mu   sync.RWMutex
}

// NewAPIKeyManager creates a new API key manager
func NewAPIKeyManager() *APIKeyManager {
	return &APIKeyManager{
		keys: make(map[string]string),
	}
}

// AddAPIKey registers a key loaded from configuration
func (akm *APIKeyManager) AddAPIKey(apiKey, description string) {
	if apiKey == "" {
		return
	}
	akm.mu.Lock()
	defer akm.mu.Unlock()

	akm.keys[apiKey] = description
}

// ValidateAPIKey reports whether apiKey is registered, comparing in
// constant time
func (akm *APIKeyManager) ValidateAPIKey(apiKey string) (string, bool) {
	akm.mu.RLock()
	defer akm.mu.RUnlock()

	for key, desc := range akm.keys {
		if SecureCompare(key, apiKey) {
			return desc, true
		}
	}
	return "", false
}

// Len returns the number of registered keys
func (akm *APIKeyManager) Len() int {
	akm.mu.RLock()
	defer akm.mu.RUnlock()
	return len(akm.keys)
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
