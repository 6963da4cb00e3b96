package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mamdani-tracker/tracker/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store.
// Rows are copied on the way in and out so callers never share state.
type MemoryStore struct {
	mu         sync.RWMutex
	promises   *collection[*models.Promise]
	indicators *collection[*models.Indicator]
	timeline   *collection[*models.TimelineEntry]
	users      map[string]*models.User
	sessions   map[string]*models.Session
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		promises:   newCollection(clonePromise),
		indicators: newCollection(cloneIndicator),
		timeline:   newCollection(cloneTimelineEntry),
		users:      make(map[string]*models.User),
		sessions:   make(map[string]*models.Session),
	}
}

// collection holds one content kind keyed by ID
type collection[T models.Content] struct {
	rows  map[string]T
	clone func(T) T
}

func newCollection[T models.Content](clone func(T) T) *collection[T] {
	return &collection[T]{rows: make(map[string]T), clone: clone}
}

func (c *collection[T]) slugTaken(slug, excludeID string) bool {
	for id, row := range c.rows {
		if id != excludeID && row.GetSlug() == slug {
			return true
		}
	}
	return false
}

func (c *collection[T]) create(row T) error {
	if _, exists := c.rows[row.GetID()]; exists {
		return ErrConflict
	}
	if c.slugTaken(row.GetSlug(), "") {
		return ErrConflict
	}
	if row.Meta().DisplayOrder == 0 {
		maxOrder := 0
		for _, existing := range c.rows {
			if o := existing.Meta().DisplayOrder; o > maxOrder {
				maxOrder = o
			}
		}
		row.Meta().DisplayOrder = maxOrder + 1
	}
	c.rows[row.GetID()] = c.clone(row)
	return nil
}

func (c *collection[T]) get(id string) (T, error) {
	row, ok := c.rows[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return c.clone(row), nil
}

func (c *collection[T]) bySlug(slug string) (T, error) {
	for _, row := range c.rows {
		if row.GetSlug() == slug {
			return c.clone(row), nil
		}
	}
	var zero T
	return zero, ErrNotFound
}

func (c *collection[T]) list(match func(T) bool) []T {
	out := make([]T, 0, len(c.rows))
	for _, row := range c.rows {
		if match(row) {
			out = append(out, c.clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Meta(), out[j].Meta()
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return out[i].GetID() < out[j].GetID()
	})
	return out
}

// update replaces editable fields; editorial state and creation time are kept
func (c *collection[T]) update(row T) error {
	existing, ok := c.rows[row.GetID()]
	if !ok {
		return ErrNotFound
	}
	if c.slugTaken(row.GetSlug(), row.GetID()) {
		return ErrConflict
	}
	stored := c.clone(row)
	meta, old := stored.Meta(), existing.Meta()
	meta.EditorialState = old.EditorialState
	meta.PublishedAt = old.PublishedAt
	meta.CreatedAt = old.CreatedAt
	c.rows[row.GetID()] = stored
	return nil
}

func (c *collection[T]) delete(id string) error {
	if _, ok := c.rows[id]; !ok {
		return ErrNotFound
	}
	delete(c.rows, id)
	return nil
}

func (c *collection[T]) setState(id string, to models.EditorialState, now time.Time) error {
	row, ok := c.rows[id]
	if !ok {
		return ErrNotFound
	}
	return row.Meta().ApplyTransition(to, now)
}

func (c *collection[T]) reorder(ids []string) error {
	for _, id := range ids {
		if _, ok := c.rows[id]; !ok {
			return ErrNotFound
		}
	}
	for i, id := range ids {
		c.rows[id].Meta().DisplayOrder = i + 1
	}
	return nil
}

func (c *collection[T]) countByState(into map[models.EditorialState]int) {
	for _, row := range c.rows {
		into[row.Meta().EditorialState]++
	}
}

func matchCommon(row models.Content, description, category string, f Filter) bool {
	if f.EditorialState != "" && row.Meta().EditorialState != f.EditorialState {
		return false
	}
	if f.Category != "" && !strings.EqualFold(category, f.Category) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		return strings.Contains(strings.ToLower(row.DisplayTitle()), q) ||
			strings.Contains(strings.ToLower(description), q)
	}
	return true
}

// Promise operations

// CreatePromise adds a new promise
func (s *MemoryStore) CreatePromise(ctx context.Context, p *models.Promise) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promises.create(p)
}

// GetPromise retrieves a promise by ID
func (s *MemoryStore) GetPromise(ctx context.Context, id string) (*models.Promise, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.promises.get(id)
}

// GetPromiseBySlug retrieves a promise by slug
func (s *MemoryStore) GetPromiseBySlug(ctx context.Context, slug string) (*models.Promise, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.promises.bySlug(slug)
}

// ListPromises returns promises matching the filter
func (s *MemoryStore) ListPromises(ctx context.Context, f Filter) ([]*models.Promise, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.promises.list(func(p *models.Promise) bool {
		if f.Status != "" && p.Status != f.Status {
			return false
		}
		return matchCommon(p, p.Description, p.Category, f)
	}), nil
}

// UpdatePromise replaces a promise's editable fields
func (s *MemoryStore) UpdatePromise(ctx context.Context, p *models.Promise) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promises.update(p)
}

// Indicator operations

// CreateIndicator adds a new indicator
func (s *MemoryStore) CreateIndicator(ctx context.Context, i *models.Indicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indicators.create(i)
}

// GetIndicator retrieves an indicator by ID
func (s *MemoryStore) GetIndicator(ctx context.Context, id string) (*models.Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indicators.get(id)
}

// GetIndicatorBySlug retrieves an indicator by slug
func (s *MemoryStore) GetIndicatorBySlug(ctx context.Context, slug string) (*models.Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indicators.bySlug(slug)
}

// ListIndicators returns indicators matching the filter
func (s *MemoryStore) ListIndicators(ctx context.Context, f Filter) ([]*models.Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indicators.list(func(i *models.Indicator) bool {
		return matchCommon(i, i.Description, i.Category, f)
	}), nil
}

// UpdateIndicator replaces an indicator's editable fields
func (s *MemoryStore) UpdateIndicator(ctx context.Context, i *models.Indicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indicators.update(i)
}

// Timeline operations

// CreateTimelineEntry adds a new timeline entry
func (s *MemoryStore) CreateTimelineEntry(ctx context.Context, e *models.TimelineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.create(e)
}

// GetTimelineEntry retrieves a timeline entry by ID
func (s *MemoryStore) GetTimelineEntry(ctx context.Context, id string) (*models.TimelineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeline.get(id)
}

// GetTimelineEntryBySlug retrieves a timeline entry by slug
func (s *MemoryStore) GetTimelineEntryBySlug(ctx context.Context, slug string) (*models.TimelineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeline.bySlug(slug)
}

// ListTimelineEntries returns timeline entries matching the filter
func (s *MemoryStore) ListTimelineEntries(ctx context.Context, f Filter) ([]*models.TimelineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f.Category = ""
	return s.timeline.list(func(e *models.TimelineEntry) bool {
		return matchCommon(e, e.Description, "", f)
	}), nil
}

// UpdateTimelineEntry replaces a timeline entry's editable fields
func (s *MemoryStore) UpdateTimelineEntry(ctx context.Context, e *models.TimelineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.update(e)
}

// Kind-generic operations

// DeleteContent removes a row of the given kind
func (s *MemoryStore) DeleteContent(ctx context.Context, kind models.ContentKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case models.KindPromise:
		return s.promises.delete(id)
	case models.KindIndicator:
		return s.indicators.delete(id)
	case models.KindTimeline:
		return s.timeline.delete(id)
	}
	return ErrNotFound
}

// SetEditorialState publishes or unpublishes a row
func (s *MemoryStore) SetEditorialState(ctx context.Context, kind models.ContentKind, id string, to models.EditorialState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	switch kind {
	case models.KindPromise:
		return s.promises.setState(id, to, now)
	case models.KindIndicator:
		return s.indicators.setState(id, to, now)
	case models.KindTimeline:
		return s.timeline.setState(id, to, now)
	}
	return ErrNotFound
}

// Reorder assigns display_order from the position of each ID
func (s *MemoryStore) Reorder(ctx context.Context, kind models.ContentKind, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case models.KindPromise:
		return s.promises.reorder(ids)
	case models.KindIndicator:
		return s.indicators.reorder(ids)
	case models.KindTimeline:
		return s.timeline.reorder(ids)
	}
	return ErrNotFound
}

// SlugExists reports whether another row of the kind already uses slug
func (s *MemoryStore) SlugExists(ctx context.Context, kind models.ContentKind, slug, excludeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case models.KindPromise:
		return s.promises.slugTaken(slug, excludeID), nil
	case models.KindIndicator:
		return s.indicators.slugTaken(slug, excludeID), nil
	case models.KindTimeline:
		return s.timeline.slugTaken(slug, excludeID), nil
	}
	return false, nil
}

// ContentStats counts rows by kind and state
func (s *MemoryStore) ContentStats(ctx context.Context) (*models.ContentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.NewContentStats()
	s.promises.countByState(stats.ByState[models.KindPromise])
	s.indicators.countByState(stats.ByState[models.KindIndicator])
	s.timeline.countByState(stats.ByState[models.KindTimeline])
	for _, p := range s.promises.rows {
		if p.EditorialState.IsPublic() {
			stats.PromisesByStatus[p.Status]++
		}
	}
	return stats, nil
}

// User operations

// CreateUser adds a new user; emails are unique ignoring case
func (s *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return ErrConflict
	}
	if s.emailTaken(u.Email, "") {
		return ErrConflict
	}
	stored := *u
	stored.Email = models.NormalizeEmail(u.Email)
	s.users[u.ID] = &stored
	return nil
}

func (s *MemoryStore) emailTaken(email, excludeID string) bool {
	email = models.NormalizeEmail(email)
	for id, u := range s.users {
		if id != excludeID && u.Email == email {
			return true
		}
	}
	return false
}

// GetUser retrieves a user by ID
func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

// GetUserByEmail retrieves a user by email, ignoring case
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = models.NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// ListUsers returns all users ordered by email
func (s *MemoryStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		out := *u
		users = append(users, &out)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

// UpdateUser replaces a user record
func (s *MemoryStore) UpdateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return ErrNotFound
	}
	if s.emailTaken(u.Email, u.ID) {
		return ErrConflict
	}
	stored := *u
	stored.Email = models.NormalizeEmail(u.Email)
	s.users[u.ID] = &stored
	return nil
}

// DeleteUser removes a user and their sessions
func (s *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	for sid, sess := range s.sessions {
		if sess.UserID == id {
			delete(s.sessions, sid)
		}
	}
	return nil
}

// TouchLogin records a successful login
func (s *MemoryStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

// Session operations

// CreateSession stores a new session
func (s *MemoryStore) CreateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sess.UserID]; !ok {
		return ErrNotFound
	}
	for _, existing := range s.sessions {
		if existing.TokenHash == sess.TokenHash {
			return ErrConflict
		}
	}
	stored := *sess
	s.sessions[sess.ID] = &stored
	return nil
}

// GetSessionByTokenHash looks a session up by the hash of its bearer token
func (s *MemoryStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			out := *sess
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteSession removes a session
func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// DeleteExpiredSessions removes sessions that expired before now
func (s *MemoryStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(now) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Lifecycle

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error { return nil }

// HealthCheck always succeeds for the memory store
func (s *MemoryStore) HealthCheck() error { return nil }

// Vacuum is a no-op for the memory store
func (s *MemoryStore) Vacuum() error { return nil }

func clonePromise(p *models.Promise) *models.Promise {
	out := *p
	out.Sources = append([]models.Source(nil), p.Sources...)
	out.PublishedAt = cloneTime(p.PublishedAt)
	return &out
}

func cloneIndicator(i *models.Indicator) *models.Indicator {
	out := *i
	out.Value = cloneFloat(i.Value)
	out.Baseline = cloneFloat(i.Baseline)
	out.Target = cloneFloat(i.Target)
	out.PublishedAt = cloneTime(i.PublishedAt)
	return &out
}

func cloneTimelineEntry(e *models.TimelineEntry) *models.TimelineEntry {
	out := *e
	out.PublishedAt = cloneTime(e.PublishedAt)
	return &out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
