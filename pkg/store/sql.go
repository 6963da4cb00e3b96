package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/mamdani-tracker/tracker/pkg/models"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with ? placeholders and rebound for PostgreSQL.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.Mutex // For display_order allocation
}

// contentTables maps each kind to its table and title column
var contentTables = map[models.ContentKind]struct{ table, title string }{
	models.KindPromise:   {"promises", "headline"},
	models.KindIndicator: {"indicators", "name"},
	models.KindTimeline:  {"timeline_entries", "title"},
}

const (
	promiseColumns = `id, slug, headline, description, category, status, sources,
		editorial_state, display_order, created_at, updated_at, published_at`
	indicatorColumns = `id, slug, name, category, description, value, unit, baseline, target,
		trend, source_url, related_promise,
		editorial_state, display_order, created_at, updated_at, published_at`
	timelineColumns = `id, slug, day, entry_date, title, description, related_promise,
		editorial_state, display_order, created_at, updated_at, published_at`
	userColumns = `id, email, password_hash, full_name, role, status, last_login_at,
		created_at, updated_at`
	sessionColumns = `id, user_id, token_hash, expires_at, created_at, ip_address, user_agent`
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL
func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) table(kind models.ContentKind) (string, error) {
	t, ok := contentTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown content kind %q", kind)
	}
	return t.table, nil
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// DB exposes the pool for connection statistics
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

// HealthCheck verifies database connectivity
func (s *sqlStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// nextDisplayOrder must be called with s.mu held
func (s *sqlStore) nextDisplayOrder(ctx context.Context, table string) (int, error) {
	var next int
	err := s.queryRow(ctx, "SELECT COALESCE(MAX(display_order), 0) + 1 FROM "+table).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate display order: %w", err)
	}
	return next, nil
}

// insert allocates a display order when unset and runs the insert
func (s *sqlStore) insert(ctx context.Context, table string, e *models.Editorial, query string, args func() []interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.DisplayOrder == 0 {
		next, err := s.nextDisplayOrder(ctx, table)
		if err != nil {
			return err
		}
		e.DisplayOrder = next
	}
	if _, err := s.exec(ctx, query, args()...); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// whereClause builds the filter conditions shared by content listings
func whereClause(f Filter, titleCol string) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.EditorialState != "" {
		conds = append(conds, "editorial_state = ?")
		args = append(args, string(f.EditorialState))
	}
	if f.Category != "" {
		conds = append(conds, "LOWER(category) = ?")
		args = append(args, strings.ToLower(f.Category))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		conds = append(conds, "(LOWER("+titleCol+") LIKE ? OR LOWER(description) LIKE ?)")
		args = append(args, "%"+q+"%", "%"+q+"%")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const orderBy = " ORDER BY display_order ASC, created_at ASC, id ASC"

// Promise operations

// CreatePromise adds a new promise
func (s *sqlStore) CreatePromise(ctx context.Context, p *models.Promise) error {
	sources, err := marshalSources(p.Sources)
	if err != nil {
		return err
	}
	return s.insert(ctx, "promises", &p.Editorial,
		`INSERT INTO promises (`+promiseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		func() []interface{} {
			return []interface{}{p.ID, p.Slug, p.Headline, p.Description, p.Category, string(p.Status), sources,
				string(p.EditorialState), p.DisplayOrder, p.CreatedAt, p.UpdatedAt, p.PublishedAt}
		})
}

// GetPromise retrieves a promise by ID
func (s *sqlStore) GetPromise(ctx context.Context, id string) (*models.Promise, error) {
	return scanPromise(s.queryRow(ctx, "SELECT "+promiseColumns+" FROM promises WHERE id = ?", id))
}

// GetPromiseBySlug retrieves a promise by slug
func (s *sqlStore) GetPromiseBySlug(ctx context.Context, slug string) (*models.Promise, error) {
	return scanPromise(s.queryRow(ctx, "SELECT "+promiseColumns+" FROM promises WHERE slug = ?", slug))
}

// ListPromises returns promises matching the filter
func (s *sqlStore) ListPromises(ctx context.Context, f Filter) ([]*models.Promise, error) {
	where, args := whereClause(f, "headline")
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+promiseColumns+" FROM promises"+where+orderBy), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list promises: %w", err)
	}
	defer rows.Close()

	var promises []*models.Promise
	for rows.Next() {
		p, err := scanPromise(rows)
		if err != nil {
			return nil, err
		}
		promises = append(promises, p)
	}
	return promises, rows.Err()
}

// UpdatePromise replaces a promise's editable fields
func (s *sqlStore) UpdatePromise(ctx context.Context, p *models.Promise) error {
	sources, err := marshalSources(p.Sources)
	if err != nil {
		return err
	}
	return checkAffected(s.exec(ctx, `
		UPDATE promises SET slug = ?, headline = ?, description = ?, category = ?, status = ?,
		       sources = ?, display_order = ?, updated_at = ?
		WHERE id = ?
	`, p.Slug, p.Headline, p.Description, p.Category, string(p.Status), sources,
		p.DisplayOrder, p.UpdatedAt, p.ID))
}

func scanPromise(row rowScanner) (*models.Promise, error) {
	var p models.Promise
	var sources, state string
	var publishedAt sql.NullTime

	err := row.Scan(&p.ID, &p.Slug, &p.Headline, &p.Description, &p.Category, &p.Status, &sources,
		&state, &p.DisplayOrder, &p.CreatedAt, &p.UpdatedAt, &publishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan promise: %w", err)
	}

	if sources != "" {
		if err := json.Unmarshal([]byte(sources), &p.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
	}
	p.EditorialState = models.EditorialState(state)
	p.PublishedAt = nullTimePtr(publishedAt)
	return &p, nil
}

// Indicator operations

// CreateIndicator adds a new indicator
func (s *sqlStore) CreateIndicator(ctx context.Context, i *models.Indicator) error {
	return s.insert(ctx, "indicators", &i.Editorial,
		`INSERT INTO indicators (`+indicatorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		func() []interface{} {
			return []interface{}{i.ID, i.Slug, i.Name, i.Category, i.Description, i.Value, i.Unit, i.Baseline, i.Target,
				string(i.Trend), i.SourceURL, i.RelatedPromise,
				string(i.EditorialState), i.DisplayOrder, i.CreatedAt, i.UpdatedAt, i.PublishedAt}
		})
}

// GetIndicator retrieves an indicator by ID
func (s *sqlStore) GetIndicator(ctx context.Context, id string) (*models.Indicator, error) {
	return scanIndicator(s.queryRow(ctx, "SELECT "+indicatorColumns+" FROM indicators WHERE id = ?", id))
}

// GetIndicatorBySlug retrieves an indicator by slug
func (s *sqlStore) GetIndicatorBySlug(ctx context.Context, slug string) (*models.Indicator, error) {
	return scanIndicator(s.queryRow(ctx, "SELECT "+indicatorColumns+" FROM indicators WHERE slug = ?", slug))
}

// ListIndicators returns indicators matching the filter
func (s *sqlStore) ListIndicators(ctx context.Context, f Filter) ([]*models.Indicator, error) {
	f.Status = ""
	where, args := whereClause(f, "name")
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+indicatorColumns+" FROM indicators"+where+orderBy), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list indicators: %w", err)
	}
	defer rows.Close()

	var indicators []*models.Indicator
	for rows.Next() {
		i, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, i)
	}
	return indicators, rows.Err()
}

// UpdateIndicator replaces an indicator's editable fields
func (s *sqlStore) UpdateIndicator(ctx context.Context, i *models.Indicator) error {
	return checkAffected(s.exec(ctx, `
		UPDATE indicators SET slug = ?, name = ?, category = ?, description = ?, value = ?, unit = ?,
		       baseline = ?, target = ?, trend = ?, source_url = ?, related_promise = ?,
		       display_order = ?, updated_at = ?
		WHERE id = ?
	`, i.Slug, i.Name, i.Category, i.Description, i.Value, i.Unit, i.Baseline, i.Target,
		string(i.Trend), i.SourceURL, i.RelatedPromise, i.DisplayOrder, i.UpdatedAt, i.ID))
}

func scanIndicator(row rowScanner) (*models.Indicator, error) {
	var i models.Indicator
	var value, baseline, target sql.NullFloat64
	var state string
	var publishedAt sql.NullTime

	err := row.Scan(&i.ID, &i.Slug, &i.Name, &i.Category, &i.Description, &value, &i.Unit, &baseline, &target,
		&i.Trend, &i.SourceURL, &i.RelatedPromise,
		&state, &i.DisplayOrder, &i.CreatedAt, &i.UpdatedAt, &publishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan indicator: %w", err)
	}

	i.Value = nullFloatPtr(value)
	i.Baseline = nullFloatPtr(baseline)
	i.Target = nullFloatPtr(target)
	i.EditorialState = models.EditorialState(state)
	i.PublishedAt = nullTimePtr(publishedAt)
	return &i, nil
}

// Timeline operations

// CreateTimelineEntry adds a new timeline entry
func (s *sqlStore) CreateTimelineEntry(ctx context.Context, e *models.TimelineEntry) error {
	return s.insert(ctx, "timeline_entries", &e.Editorial,
		`INSERT INTO timeline_entries (`+timelineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		func() []interface{} {
			return []interface{}{e.ID, e.Slug, e.Day, e.Date, e.Title, e.Description, e.RelatedPromise,
				string(e.EditorialState), e.DisplayOrder, e.CreatedAt, e.UpdatedAt, e.PublishedAt}
		})
}

// GetTimelineEntry retrieves a timeline entry by ID
func (s *sqlStore) GetTimelineEntry(ctx context.Context, id string) (*models.TimelineEntry, error) {
	return scanTimelineEntry(s.queryRow(ctx, "SELECT "+timelineColumns+" FROM timeline_entries WHERE id = ?", id))
}

// GetTimelineEntryBySlug retrieves a timeline entry by slug
func (s *sqlStore) GetTimelineEntryBySlug(ctx context.Context, slug string) (*models.TimelineEntry, error) {
	return scanTimelineEntry(s.queryRow(ctx, "SELECT "+timelineColumns+" FROM timeline_entries WHERE slug = ?", slug))
}

// ListTimelineEntries returns timeline entries matching the filter
func (s *sqlStore) ListTimelineEntries(ctx context.Context, f Filter) ([]*models.TimelineEntry, error) {
	f.Status, f.Category = "", ""
	where, args := whereClause(f, "title")
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+timelineColumns+" FROM timeline_entries"+where+orderBy), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list timeline entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.TimelineEntry
	for rows.Next() {
		e, err := scanTimelineEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateTimelineEntry replaces a timeline entry's editable fields
func (s *sqlStore) UpdateTimelineEntry(ctx context.Context, e *models.TimelineEntry) error {
	return checkAffected(s.exec(ctx, `
		UPDATE timeline_entries SET slug = ?, day = ?, entry_date = ?, title = ?, description = ?,
		       related_promise = ?, display_order = ?, updated_at = ?
		WHERE id = ?
	`, e.Slug, e.Day, e.Date, e.Title, e.Description, e.RelatedPromise, e.DisplayOrder, e.UpdatedAt, e.ID))
}

func scanTimelineEntry(row rowScanner) (*models.TimelineEntry, error) {
	var e models.TimelineEntry
	var state string
	var publishedAt sql.NullTime

	err := row.Scan(&e.ID, &e.Slug, &e.Day, &e.Date, &e.Title, &e.Description, &e.RelatedPromise,
		&state, &e.DisplayOrder, &e.CreatedAt, &e.UpdatedAt, &publishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan timeline entry: %w", err)
	}

	e.EditorialState = models.EditorialState(state)
	e.PublishedAt = nullTimePtr(publishedAt)
	return &e, nil
}

// Operations shared by every content kind

// DeleteContent removes a row of the given kind
func (s *sqlStore) DeleteContent(ctx context.Context, kind models.ContentKind, id string) error {
	table, err := s.table(kind)
	if err != nil {
		return err
	}
	return checkAffected(s.exec(ctx, "DELETE FROM "+table+" WHERE id = ?", id))
}

// SetEditorialState publishes or unpublishes a row inside a transaction
func (s *sqlStore) SetEditorialState(ctx context.Context, kind models.ContentKind, id string, to models.EditorialState) error {
	table, err := s.table(kind)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var state string
	var publishedAt sql.NullTime
	err = tx.QueryRowContext(ctx, s.rebind("SELECT editorial_state, published_at FROM "+table+" WHERE id = ?"), id).
		Scan(&state, &publishedAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read editorial state: %w", err)
	}

	ed := models.Editorial{EditorialState: models.EditorialState(state), PublishedAt: nullTimePtr(publishedAt)}
	if err := ed.ApplyTransition(to, time.Now().UTC()); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.rebind("UPDATE "+table+" SET editorial_state = ?, updated_at = ?, published_at = ? WHERE id = ?"),
		string(ed.EditorialState), ed.UpdatedAt, ed.PublishedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update editorial state: %w", err)
	}
	return tx.Commit()
}

// Reorder assigns display_order from the position of each ID. An unknown ID
// rolls the whole reorder back.
func (s *sqlStore) Reorder(ctx context.Context, kind models.ContentKind, ids []string) error {
	table, err := s.table(kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.rebind("UPDATE " + table + " SET display_order = ? WHERE id = ?")
	for i, id := range ids {
		if err := checkAffected(tx.ExecContext(ctx, query, i+1, id)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SlugExists reports whether another row of the kind already uses slug
func (s *sqlStore) SlugExists(ctx context.Context, kind models.ContentKind, slug, excludeID string) (bool, error) {
	table, err := s.table(kind)
	if err != nil {
		return false, err
	}
	var count int
	err = s.queryRow(ctx, "SELECT COUNT(*) FROM "+table+" WHERE slug = ? AND id <> ?", slug, excludeID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ContentStats counts rows by kind and state using grouped queries
func (s *sqlStore) ContentStats(ctx context.Context) (*models.ContentStats, error) {
	stats := models.NewContentStats()

	for _, kind := range models.AllKinds {
		table := contentTables[kind].table
		err := s.countGrouped(ctx, "SELECT editorial_state, COUNT(*) FROM "+table+" GROUP BY editorial_state",
			func(key string, n int) {
				stats.ByState[kind][models.EditorialState(key)] = n
			})
		if err != nil {
			return nil, err
		}
	}

	err := s.countGrouped(ctx, "SELECT status, COUNT(*) FROM promises WHERE editorial_state = 'published' GROUP BY status",
		func(key string, n int) {
			stats.PromisesByStatus[models.PromiseStatus(key)] = n
		})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *sqlStore) countGrouped(ctx context.Context, query string, add func(key string, n int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to count content: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		add(key, n)
	}
	return rows.Err()
}

// helpers

func marshalSources(sources []models.Source) (string, error) {
	if sources == nil {
		return "[]", nil
	}
	b, err := json.Marshal(sources)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sources: %w", err)
	}
	return string(b), nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullFloatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// mapWriteError turns driver constraint errors into store errors
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return ErrConflict
		case "23503":
			return ErrNotFound
		}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrConflict
		case sqlite3.ErrConstraintForeignKey:
			return ErrNotFound
		}
	}
	return err
}
