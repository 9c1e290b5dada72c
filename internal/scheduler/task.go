package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks for dequeue. Higher values are drained first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Func is the work a task performs.
type Func func(ctx context.Context) (interface{}, error)

// TaskOption configures a task at submission time.
type TaskOption func(*Task)

func WithPriority(p Priority) TaskOption { return func(t *Task) { t.Priority = p } }
func WithMaxRetries(n int) TaskOption    { return func(t *Task) { t.MaxRetries = n } }
func WithTimeout(d time.Duration) TaskOption { return func(t *Task) { t.Timeout = d } }
func WithMetadata(md map[string]interface{}) TaskOption {
	return func(t *Task) { t.Metadata = md }
}

// Task is a unit of scheduled work. Mutable fields are guarded by mu since
// workers and API callers (Get/List/Cancel) observe them concurrently.
type Task struct {
	ID         string
	Name       string
	Fn         Func
	Priority   Priority
	MaxRetries int
	Timeout    time.Duration
	Metadata   map[string]interface{}
	CreatedAt  time.Time

	mu          sync.Mutex
	status      Status
	startedAt   time.Time
	completedAt time.Time
	retryCount  int
	result      interface{}
	errMsg      string
}

func newTask(name string, fn Func, opts ...TaskOption) *Task {
	t := &Task{
		ID:         uuid.New().String(),
		Name:       name,
		Fn:         fn,
		Priority:   PriorityNormal,
		MaxRetries: 3,
		CreatedAt:  time.Now(),
		status:     StatusPending,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Snapshot is an immutable, race-free view of a task's current state.
type Snapshot struct {
	ID          string
	Name        string
	Priority    Priority
	Status      Status
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	RetryCount  int
	MaxRetries  int
	Timeout     time.Duration
	Result      interface{}
	Error       string
	Metadata    map[string]interface{}
}

func (t *Task) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:          t.ID,
		Name:        t.Name,
		Priority:    t.Priority,
		Status:      t.status,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.startedAt,
		CompletedAt: t.completedAt,
		RetryCount:  t.retryCount,
		MaxRetries:  t.MaxRetries,
		Timeout:     t.Timeout,
		Result:      t.result,
		Error:       t.errMsg,
		Metadata:    t.Metadata,
	}
}
