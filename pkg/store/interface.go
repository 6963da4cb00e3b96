package store

import (
	"context"
	"errors"
	"time"

	"github.com/mamdani-tracker/tracker/pkg/models"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Filter narrows content listings. Zero values match everything.
type Filter struct {
	EditorialState models.EditorialState
	Category       string
	Status         models.PromiseStatus // promises only
	Query          string               // case-insensitive match on title and description
}

// Published returns a filter for public pages
func Published() Filter {
	return Filter{EditorialState: models.StatePublished}
}

// Store defines the interface for data persistence.
// Memory, SQLite and PostgreSQL implement it.
type Store interface {
	// Promise operations
	CreatePromise(ctx context.Context, p *models.Promise) error
	GetPromise(ctx context.Context, id string) (*models.Promise, error)
	GetPromiseBySlug(ctx context.Context, slug string) (*models.Promise, error)
	ListPromises(ctx context.Context, f Filter) ([]*models.Promise, error)
	UpdatePromise(ctx context.Context, p *models.Promise) error

	// Indicator operations
	CreateIndicator(ctx context.Context, i *models.Indicator) error
	GetIndicator(ctx context.Context, id string) (*models.Indicator, error)
	GetIndicatorBySlug(ctx context.Context, slug string) (*models.Indicator, error)
	ListIndicators(ctx context.Context, f Filter) ([]*models.Indicator, error)
	UpdateIndicator(ctx context.Context, i *models.Indicator) error

	// Timeline operations
	CreateTimelineEntry(ctx context.Context, e *models.TimelineEntry) error
	GetTimelineEntry(ctx context.Context, id string) (*models.TimelineEntry, error)
	GetTimelineEntryBySlug(ctx context.Context, slug string) (*models.TimelineEntry, error)
	ListTimelineEntries(ctx context.Context, f Filter) ([]*models.TimelineEntry, error)
	UpdateTimelineEntry(ctx context.Context, e *models.TimelineEntry) error

	// Operations shared by every content kind
	DeleteContent(ctx context.Context, kind models.ContentKind, id string) error
	SetEditorialState(ctx context.Context, kind models.ContentKind, id string, to models.EditorialState) error
	Reorder(ctx context.Context, kind models.ContentKind, ids []string) error
	SlugExists(ctx context.Context, kind models.ContentKind, slug, excludeID string) (bool, error)
	ContentStats(ctx context.Context) (*models.ContentStats, error)

	// User operations
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id string) error
	TouchLogin(ctx context.Context, id string, at time.Time) error

	// Session operations
	CreateSession(ctx context.Context, sess *models.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)

	// Lifecycle
	Close() error
	HealthCheck() error
	Vacuum() error
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// SQLite specific
	Path string
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "tracker.db"
		}
		return NewSQLiteStore(path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedDatabase
	}
}
