// Package threadpool manages named, independently-sized worker pools for
// the gateway's internal background work (proxying, health checks, and
// other I/O- or CPU-bound tasks), each with a bounded virtual queue.
package threadpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Name identifies one of the gateway's fixed worker pools.
type Name string

const (
	PoolIO          Name = "io"
	PoolCPU         Name = "cpu"
	PoolProxy       Name = "proxy"
	PoolHealthCheck Name = "health_check"
)

var ErrQueueFull = errors.New("threadpool: queue is full")
var ErrUnknownPool = errors.New("threadpool: unknown pool")

// Config sizes a single named pool.
type Config struct {
	MaxWorkers int
	QueueSize  int
}

// DefaultConfigs mirrors the gateway's fixed default pool sizing.
func DefaultConfigs() map[Name]Config {
	return map[Name]Config{
		PoolIO:          {MaxWorkers: 20, QueueSize: 2000},
		PoolCPU:         {MaxWorkers: 4, QueueSize: 500},
		PoolProxy:       {MaxWorkers: 50, QueueSize: 5000},
		PoolHealthCheck: {MaxWorkers: 5, QueueSize: 100},
	}
}

// Job is a unit of work submitted to a pool.
type Job func(ctx context.Context) error

type job struct {
	id string
	fn Job
}

// Stats is a pool's point-in-time statistics snapshot.
type Stats struct {
	Name              Name
	MaxWorkers        int
	QueueSize         int
	ActiveWorkers     int64
	PendingTasks      int64
	CompletedTasks    int64
	FailedTasks       int64
	TotalSubmitted    int64
	SuccessRatePct    float64
	QueueUtilPct      float64
	CreatedAt         time.Time
	LastActivity      time.Time
}

// pool is a fixed-size worker pool draining a bounded job channel.
type pool struct {
	name   Name
	cfg    Config
	jobs   chan job
	cancel context.CancelFunc
	wg     sync.WaitGroup

	activeWorkers  atomic.Int64
	pendingTasks   atomic.Int64
	completedTasks atomic.Int64
	failedTasks    atomic.Int64
	totalSubmitted atomic.Int64

	mu           sync.Mutex
	createdAt    time.Time
	lastActivity time.Time
}

func newPool(name Name, cfg Config) *pool {
	return &pool{
		name:      name,
		cfg:       cfg,
		jobs:      make(chan job, cfg.QueueSize),
		createdAt: time.Now(),
	}
}

func (p *pool) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.cfg.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx)
	}
}

func (p *pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(ctx, j)
		}
	}
}

func (p *pool) run(ctx context.Context, j job) {
	p.activeWorkers.Add(1)
	defer p.activeWorkers.Add(-1)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("threadpool: job panicked: %v", r)
			}
		}()
		return j.fn(ctx)
	}()

	p.pendingTasks.Add(-1)
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()

	if err != nil {
		p.failedTasks.Add(1)
		return
	}
	p.completedTasks.Add(1)
}

func (p *pool) submit(fn Job) (string, error) {
	id := uuid.New().String()
	select {
	case p.jobs <- job{id: id, fn: fn}:
		p.pendingTasks.Add(1)
		p.totalSubmitted.Add(1)
		p.mu.Lock()
		p.lastActivity = time.Now()
		p.mu.Unlock()
		return id, nil
	default:
		return "", ErrQueueFull
	}
}

func (p *pool) stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) stats() Stats {
	p.mu.Lock()
	created, lastActivity := p.createdAt, p.lastActivity
	p.mu.Unlock()

	submitted := p.totalSubmitted.Load()
	completed := p.completedTasks.Load()
	pending := p.pendingTasks.Load()

	successRate := 0.0
	if submitted > 0 {
		successRate = float64(completed) / float64(submitted) * 100
	}
	queueUtil := 0.0
	if p.cfg.QueueSize > 0 {
		queueUtil = float64(pending) / float64(p.cfg.QueueSize) * 100
	}

	return Stats{
		Name:           p.name,
		MaxWorkers:     p.cfg.MaxWorkers,
		QueueSize:      p.cfg.QueueSize,
		ActiveWorkers:  p.activeWorkers.Load(),
		PendingTasks:   pending,
		CompletedTasks: completed,
		FailedTasks:    p.failedTasks.Load(),
		TotalSubmitted: submitted,
		SuccessRatePct: successRate,
		QueueUtilPct:   queueUtil,
		CreatedAt:      created,
		LastActivity:   lastActivity,
	}
}
