package threadpool

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/gateway-core/infrastructure/logging"
)

// Manager owns every named pool and supports resizing a pool by recreating
// it in place, mirroring the teacher's non-resizable executor semantics.
type Manager struct {
	mu      sync.RWMutex
	pools   map[Name]*pool
	configs map[Name]Config
	ctx     context.Context
	logger  *logging.Logger
}

func New(ctx context.Context, logger *logging.Logger) *Manager {
	m := &Manager{
		pools:   make(map[Name]*pool),
		configs: make(map[Name]Config),
		ctx:     ctx,
		logger:  logger,
	}
	for name, cfg := range DefaultConfigs() {
		m.createPool(name, cfg)
	}
	return m
}

func (m *Manager) createPool(name Name, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.pools[name]; ok {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_ = existing.stop(stopCtx)
		cancel()
	}

	p := newPool(name, cfg)
	p.start(m.ctx)
	m.pools[name] = p
	m.configs[name] = cfg
}

// Submit enqueues fn on the named pool.
func (m *Manager) Submit(name Name, fn Job) (string, error) {
	m.mu.RLock()
	p, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		return "", ErrUnknownPool
	}
	return p.submit(fn)
}

// Resize recreates the named pool with a new worker count, per the
// teacher's "executors can't resize in place" constraint.
func (m *Manager) Resize(name Name, maxWorkers int) error {
	m.mu.RLock()
	cfg, ok := m.configs[name]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownPool
	}
	cfg.MaxWorkers = maxWorkers
	m.createPool(name, cfg)
	m.logger.Info(context.Background(), "thread pool resized", map[string]interface{}{
		"pool": string(name), "max_workers": maxWorkers,
	})
	return nil
}

// Stats returns the current statistics for one pool.
func (m *Manager) Stats(name Name) (Stats, bool) {
	m.mu.RLock()
	p, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return p.stats(), true
}

// AllStats returns every pool's statistics plus an aggregate summary.
type Summary struct {
	TotalPools           int
	TotalActiveWorkers   int64
	TotalPending         int64
	TotalCompleted       int64
	TotalFailed          int64
	TotalSubmitted       int64
	OverallSuccessRatePct float64
}

func (m *Manager) AllStats() (map[Name]Stats, Summary) {
	m.mu.RLock()
	names := make([]Name, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	m.mu.RUnlock()

	all := make(map[Name]Stats, len(names))
	var summary Summary
	summary.TotalPools = len(names)
	for _, name := range names {
		s, _ := m.Stats(name)
		all[name] = s
		summary.TotalActiveWorkers += s.ActiveWorkers
		summary.TotalPending += s.PendingTasks
		summary.TotalCompleted += s.CompletedTasks
		summary.TotalFailed += s.FailedTasks
		summary.TotalSubmitted += s.TotalSubmitted
	}
	if summary.TotalSubmitted > 0 {
		summary.OverallSuccessRatePct = float64(summary.TotalCompleted) / float64(summary.TotalSubmitted) * 100
	}
	return all, summary
}

// StopAll shuts down every pool, bounded by ctx.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	pools := make([]*pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.pools = make(map[Name]*pool)
	m.mu.Unlock()

	var firstErr error
	for _, p := range pools {
		if err := p.stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
