package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLStore implements Store interface using PostgreSQL
type PostgreSQLStore struct {
	*sqlStore
}

// NewPostgreSQLStore creates a new PostgreSQL store
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25) // Default
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5) // Default
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute) // Default
	}

	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute) // Default
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{sqlStore: &sqlStore{db: db, dialect: dialectPostgres}}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables if they don't exist
func (s *PostgreSQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS promises (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		headline TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		sources JSONB NOT NULL DEFAULT '[]',
		editorial_state TEXT NOT NULL DEFAULT 'draft',
		display_order INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_promises_state_order ON promises(editorial_state, display_order);
	CREATE INDEX IF NOT EXISTS idx_promises_status ON promises(status);

	CREATE TABLE IF NOT EXISTS indicators (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		value DOUBLE PRECISION,
		unit TEXT NOT NULL DEFAULT '',
		baseline DOUBLE PRECISION,
		target DOUBLE PRECISION,
		trend TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		related_promise TEXT NOT NULL DEFAULT '',
		editorial_state TEXT NOT NULL DEFAULT 'draft',
		display_order INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_indicators_state_order ON indicators(editorial_state, display_order);

	CREATE TABLE IF NOT EXISTS timeline_entries (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		day INTEGER NOT NULL CHECK (day BETWEEN 1 AND 100),
		entry_date TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		related_promise TEXT NOT NULL DEFAULT '',
		editorial_state TEXT NOT NULL DEFAULT 'draft',
		display_order INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_timeline_state_order ON timeline_entries(editorial_state, display_order);

	-- CMS accounts
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_login_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Vacuum runs VACUUM ANALYZE on the content and session tables
func (s *PostgreSQLStore) Vacuum() error {
	_, err := s.db.Exec("VACUUM ANALYZE promises, indicators, timeline_entries, sessions")
	return err
}
