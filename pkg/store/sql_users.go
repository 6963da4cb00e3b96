package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mamdani-tracker/tracker/pkg/models"
)

// CreateUser adds a new user; emails are stored lowercased and unique
func (s *sqlStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, models.NormalizeEmail(u.Email), u.PasswordHash, u.FullName, string(u.Role), u.Status,
		u.LastLoginAt, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *sqlStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.queryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetUserByEmail retrieves a user by email, ignoring case
func (s *sqlStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.queryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", models.NormalizeEmail(email)))
}

// ListUsers returns all users ordered by email
func (s *sqlStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY email ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser replaces a user record
func (s *sqlStore) UpdateUser(ctx context.Context, u *models.User) error {
	return checkAffected(s.exec(ctx, `
		UPDATE users SET email = ?, password_hash = ?, full_name = ?, role = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, models.NormalizeEmail(u.Email), u.PasswordHash, u.FullName, string(u.Role), u.Status, u.UpdatedAt, u.ID))
}

// DeleteUser removes a user; sessions cascade
func (s *sqlStore) DeleteUser(ctx context.Context, id string) error {
	return checkAffected(s.exec(ctx, "DELETE FROM users WHERE id = ?", id))
}

// TouchLogin records a successful login
func (s *sqlStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return checkAffected(s.exec(ctx, "UPDATE users SET last_login_at = ? WHERE id = ?", at, id))
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var lastLogin sql.NullTime

	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &u.Status, &lastLogin,
		&u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.LastLoginAt = nullTimePtr(lastLogin)
	return &u, nil
}

// Session operations

// CreateSession stores a new session
func (s *sqlStore) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.exec(ctx, `INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.ExpiresAt, sess.CreatedAt, sess.IPAddress, sess.UserAgent)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// GetSessionByTokenHash looks a session up by the hash of its bearer token
func (s *sqlStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	var sess models.Session
	err := s.queryRow(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE token_hash = ?", tokenHash).
		Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.ExpiresAt, &sess.CreatedAt, &sess.IPAddress, &sess.UserAgent)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session
func (s *sqlStore) DeleteSession(ctx context.Context, id string) error {
	return checkAffected(s.exec(ctx, "DELETE FROM sessions WHERE id = ?", id))
}

// DeleteExpiredSessions removes sessions that expired before now
func (s *sqlStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.exec(ctx, "DELETE FROM sessions WHERE expires_at < ?", now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
