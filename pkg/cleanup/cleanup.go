package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/mamdani-tracker/tracker/pkg/logging"
)

// Config defines cleanup intervals
type Config struct {
	Enabled         bool
	CleanupInterval time.Duration
	VacuumInterval  time.Duration
}

// DefaultConfig returns sensible defaults for cleanup
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		CleanupInterval: 15 * time.Minute,
		VacuumInterval:  7 * 24 * time.Hour,
	}
}

// Store is the subset of the data store the cleanup manager needs
type Store interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
	Vacuum() error
}

// Sweeper is an extra in-memory purge run on every cleanup tick, such as
// dropping idle rate limiters. It returns how many entries it removed.
type Sweeper func() int

// Manager handles periodic purges and database maintenance
type Manager struct {
	config   Config
	store    Store
	logger   *logging.Logger
	sweepers map[string]Sweeper
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// Stats tracks cleanup operations
type Stats struct {
	LastCleanupTime      time.Time     `json:"last_cleanup_time"`
	LastVacuumTime       time.Time     `json:"last_vacuum_time"`
	TotalSessionsDeleted int64         `json:"total_sessions_deleted"`
	TotalSwept           int64         `json:"total_swept"`
	TotalVacuumRuns      int64         `json:"total_vacuum_runs"`
	LastCleanupDuration  time.Duration `json:"last_cleanup_duration"`
	LastVacuumDuration   time.Duration `json:"last_vacuum_duration"`
}

// NewManager creates a new cleanup manager
func NewManager(config Config, store Store, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:   config,
		store:    store,
		logger:   logger.WithField("component", "cleanup"),
		sweepers: make(map[string]Sweeper),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddSweeper registers an extra purge; call before Start
func (m *Manager) AddSweeper(name string, fn Sweeper) {
	m.sweepers[name] = fn
}

// Start begins the periodic cleanup goroutines
func (m *Manager) Start() {
	if !m.config.Enabled {
		m.logger.Info("Cleanup manager disabled")
		return
	}

	m.logger.Info("Starting cleanup manager", map[string]interface{}{
		"cleanup_interval": m.config.CleanupInterval.String(),
		"vacuum_interval":  m.config.VacuumInterval.String(),
	})

	m.wg.Add(1)
	go m.loop(m.config.CleanupInterval, m.CleanupNow)
	if m.config.VacuumInterval > 0 {
		m.wg.Add(1)
		go m.loop(m.config.VacuumInterval, m.VacuumNow)
	}
}

// Stop gracefully stops the cleanup manager
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("Cleanup manager stopped")
}

// Close satisfies io.Closer for the shutdown manager
func (m *Manager) Close() error {
	m.Stop()
	return nil
}

func (m *Manager) loop(interval time.Duration, run func()) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// CleanupNow deletes expired sessions and runs every sweeper
func (m *Manager) CleanupNow() {
	start := time.Now()

	deleted, err := m.store.DeleteExpiredSessions(m.ctx, start)
	if err != nil {
		m.logger.Error("Failed to delete expired sessions", map[string]interface{}{"error": err})
	}

	swept := 0
	for name, sweep := range m.sweepers {
		n := sweep()
		if n > 0 {
			m.logger.Debug("Sweeper removed entries", map[string]interface{}{"sweeper": name, "removed": n})
		}
		swept += n
	}

	duration := time.Since(start)
	m.mu.Lock()
	m.stats.LastCleanupTime = time.Now()
	m.stats.LastCleanupDuration = duration
	m.stats.TotalSessionsDeleted += int64(deleted)
	m.stats.TotalSwept += int64(swept)
	m.mu.Unlock()

	if deleted > 0 || swept > 0 {
		m.logger.Info("Cleanup complete", map[string]interface{}{
			"sessions_deleted": deleted,
			"swept":            swept,
			"duration":         duration.String(),
		})
	}
}

// VacuumNow performs database maintenance
func (m *Manager) VacuumNow() {
	start := time.Now()
	if err := m.store.Vacuum(); err != nil {
		m.logger.Error("Database vacuum failed", map[string]interface{}{"error": err})
		return
	}

	duration := time.Since(start)
	m.mu.Lock()
	m.stats.LastVacuumTime = time.Now()
	m.stats.LastVacuumDuration = duration
	m.stats.TotalVacuumRuns++
	m.mu.Unlock()

	m.logger.Info("Database vacuum complete", map[string]interface{}{"duration": duration.String()})
}

// GetStats returns current cleanup statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
