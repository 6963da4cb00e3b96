package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

type countingStore struct {
	store.Store
	mu      sync.Mutex
	vacuums int
}

func (c *countingStore) Vacuum() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vacuums++
	return nil
}

func (c *countingStore) vacuumCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vacuums
}

func TestCleanupNow(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Now().UTC()

	if err := s.CreateUser(ctx, &models.User{ID: "u1", Email: "a@example.com", Role: models.RoleEditor, Status: models.UserStatusActive}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	s.CreateSession(ctx, &models.Session{ID: "old", UserID: "u1", TokenHash: "a", ExpiresAt: now.Add(-time.Minute)})
	s.CreateSession(ctx, &models.Session{ID: "new", UserID: "u1", TokenHash: "b", ExpiresAt: now.Add(time.Hour)})

	m := NewManager(DefaultConfig(), s, nil)
	m.AddSweeper("limiters", func() int { return 3 })
	m.CleanupNow()

	stats := m.GetStats()
	if stats.TotalSessionsDeleted != 1 {
		t.Errorf("expected 1 session deleted, got %d", stats.TotalSessionsDeleted)
	}
	if stats.TotalSwept != 3 {
		t.Errorf("expected 3 swept, got %d", stats.TotalSwept)
	}
	if _, err := s.GetSessionByTokenHash(ctx, "b"); err != nil {
		t.Errorf("live session was removed: %v", err)
	}
}

func TestStartStopDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	cs := &countingStore{Store: store.NewMemoryStore()}
	m := NewManager(Config{
		Enabled:         true,
		CleanupInterval: 5 * time.Millisecond,
		VacuumInterval:  5 * time.Millisecond,
	}, cs, nil)
	m.Start()

	deadline := time.Now().Add(time.Second)
	for cs.vacuumCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()

	if cs.vacuumCount() == 0 {
		t.Error("vacuum loop never ran")
	}
	if m.GetStats().TotalVacuumRuns == 0 {
		t.Error("vacuum runs not recorded")
	}
}

func TestDisabledManagerStartsNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(Config{Enabled: false}, store.NewMemoryStore(), nil)
	m.Start()
	if err := m.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
}
