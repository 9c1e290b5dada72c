// Package scheduler runs submitted work across a fixed worker pool, honoring
// per-task priority, timeout, and retry semantics, and periodically purging
// old terminal tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/gateway-core/infrastructure/logging"
)

const (
	DefaultMaxWorkers = 10
	DefaultQueueSize  = 1000
	pollInterval      = 1 * time.Second
	purgeCronSpec     = "@every 1h"
	purgeOlderThan    = 24 * time.Hour
)

var ErrQueueFull = errors.New("scheduler: task queue is full")

type Config struct {
	MaxWorkers int
	QueueSize  int
}

func DefaultConfig() Config {
	return Config{MaxWorkers: DefaultMaxWorkers, QueueSize: DefaultQueueSize}
}

// Scheduler owns the task table, the bounded priority queue, and the worker
// pool that drains it.
type Scheduler struct {
	cfg    Config
	queue  *taskQueue
	logger *logging.Logger

	mu      sync.Mutex
	tasks   map[string]*Task
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cron    *cron.Cron
	started time.Time

	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	failedTasks    atomic.Int64
	cancelledTasks atomic.Int64
}

func New(cfg Config, logger *logging.Logger) *Scheduler {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Scheduler{
		cfg:    cfg,
		queue:  newTaskQueue(cfg.QueueSize),
		logger: logger,
		tasks:  make(map[string]*Task),
	}
}

// Start launches the worker pool and the background purge job. Safe to call
// once; a second call on an already-running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.started = time.Now()
	s.mu.Unlock()

	for i := 0; i < s.cfg.MaxWorkers; i++ {
		s.wg.Add(1)
		go s.workerLoop(runCtx, i)
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(purgeCronSpec, func() {
		purged := s.PurgeCompleted(purgeOlderThan)
		if purged > 0 {
			s.logger.Info(context.Background(), "purged completed tasks", map[string]interface{}{"count": purged})
		}
	}); err != nil {
		return fmt.Errorf("scheduler: register purge job: %w", err)
	}
	s.cron.Start()

	s.logger.Info(ctx, "task scheduler started", map[string]interface{}{"max_workers": s.cfg.MaxWorkers})
	return nil
}

// Stop cancels the worker pool and blocks until every worker exits or ctx
// expires, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	if s.cron != nil {
		cronCtx := s.cron.Stop()
		<-cronCtx.Done()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
		s.logger.Info(ctx, "task scheduler stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues a new task and returns its id. It returns ErrQueueFull if
// the bounded queue is already at capacity.
func (s *Scheduler) Submit(name string, fn Func, opts ...TaskOption) (string, error) {
	t := newTask(name, fn, opts...)

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
	s.totalTasks.Add(1)

	if !s.queue.put(t) {
		return "", ErrQueueFull
	}
	return t.ID, nil
}

// Get returns the current snapshot of a task.
func (s *Scheduler) Get(id string) (Snapshot, bool) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(), true
}

// Cancel marks a still-pending task as cancelled. Tasks already running or
// terminal cannot be cancelled.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		return false
	}
	t.status = StatusCancelled
	t.completedAt = time.Now()
	s.cancelledTasks.Add(1)
	return true
}

// List returns task snapshots, most recently created first, optionally
// filtered by status and paginated.
func (s *Scheduler) List(status *Status, limit, offset int) []Snapshot {
	s.mu.Lock()
	all := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		all = append(all, t)
	}
	s.mu.Unlock()

	snaps := make([]Snapshot, 0, len(all))
	for _, t := range all {
		snap := t.snapshot()
		if status != nil && snap.Status != *status {
			continue
		}
		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })

	if offset >= len(snaps) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(snaps) {
		end = len(snaps)
	}
	return snaps[offset:end]
}

// PurgeCompleted deletes terminal tasks that completed more than olderThan
// ago, freeing the task table.
func (s *Scheduler) PurgeCompleted(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, t := range s.tasks {
		t.mu.Lock()
		terminal := t.status == StatusCompleted || t.status == StatusFailed || t.status == StatusCancelled
		completedAt := t.completedAt
		t.mu.Unlock()

		if terminal && !completedAt.IsZero() && completedAt.Before(cutoff) {
			delete(s.tasks, id)
			purged++
		}
	}
	return purged
}

// Stats is the scheduler's aggregate statistics snapshot.
type Stats struct {
	Running        bool
	UptimeSeconds  float64
	QueueSize      int
	MaxWorkers     int
	TotalTasks     int64
	CompletedTasks int64
	FailedTasks    int64
	CancelledTasks int64
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	running := s.running
	started := s.started
	s.mu.Unlock()

	uptime := 0.0
	if !started.IsZero() {
		uptime = time.Since(started).Seconds()
	}

	return Stats{
		Running:        running,
		UptimeSeconds:  uptime,
		QueueSize:      s.queue.len(),
		MaxWorkers:     s.cfg.MaxWorkers,
		TotalTasks:     s.totalTasks.Load(),
		CompletedTasks: s.completedTasks.Load(),
		FailedTasks:    s.failedTasks.Load(),
		CancelledTasks: s.cancelledTasks.Load(),
	}
}

func (s *Scheduler) workerLoop(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t := s.queue.tryGet(); t != nil {
			s.execute(ctx, t)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.queue.notify:
		case <-time.After(pollInterval):
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t *Task) {
	t.mu.Lock()
	if t.status != StatusPending {
		t.mu.Unlock()
		return
	}
	t.status = StatusRunning
	t.startedAt = time.Now()
	fn := t.Fn
	timeout := t.Timeout
	t.mu.Unlock()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := s.invoke(runCtx, fn)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.fail(t, "task execution timed out")
			return
		}
		s.retryOrFail(t, err)
		return
	}

	t.mu.Lock()
	t.status = StatusCompleted
	t.result = result
	t.completedAt = time.Now()
	name := t.Name
	id := t.ID
	t.mu.Unlock()

	s.completedTasks.Add(1)
	s.logger.Info(ctx, "task completed", map[string]interface{}{"task_id": id, "name": name})
}

func (s *Scheduler) invoke(ctx context.Context, fn Func) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) retryOrFail(t *Task, taskErr error) {
	t.mu.Lock()
	if t.retryCount < t.MaxRetries {
		t.retryCount++
		t.status = StatusPending
		t.startedAt = time.Time{}
		t.errMsg = ""
		t.mu.Unlock()

		if s.queue.put(t) {
			s.logger.Warn(context.Background(), "task retrying", map[string]interface{}{
				"task_id": t.ID, "retry": t.retryCount, "max_retries": t.MaxRetries, "error": taskErr.Error(),
			})
			return
		}

		t.mu.Lock()
		t.status = StatusFailed
		t.errMsg = "retry queue full: " + taskErr.Error()
		t.completedAt = time.Now()
		t.mu.Unlock()
		s.failedTasks.Add(1)
		return
	}

	t.status = StatusFailed
	t.errMsg = taskErr.Error()
	t.completedAt = time.Now()
	t.mu.Unlock()
	s.failedTasks.Add(1)
	s.logger.Error(context.Background(), "task failed", taskErr, map[string]interface{}{"task_id": t.ID})
}

func (s *Scheduler) fail(t *Task, reason string) {
	t.mu.Lock()
	t.status = StatusFailed
	t.errMsg = reason
	t.completedAt = time.Now()
	t.mu.Unlock()
	s.failedTasks.Add(1)
}
