package streamhub

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status is a stream's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

const (
	DefaultMaxEventQueueSize  = 1000
	DefaultKeepaliveInterval  = 30 * time.Second
	DefaultTimeout            = 300 * time.Second
	sendEventTimeout          = 5 * time.Second
)

// stream is a single SSE connection's server-side state.
type stream struct {
	ID        string
	ServiceID string
	UserID    string
	ToolID    string
	ToolName  string
	CreatedAt time.Time

	keepaliveInterval time.Duration
	timeout           time.Duration
	events            chan Event

	mu               sync.Mutex
	status           Status
	lastEventAt      time.Time
	eventsSent       int64
	connectedClients int32
}

func newStream(id, serviceID, userID, toolID, toolName string, keepalive, timeout time.Duration) *stream {
	return &stream{
		ID:                id,
		ServiceID:         serviceID,
		UserID:            userID,
		ToolID:            toolID,
		ToolName:          toolName,
		CreatedAt:         time.Now(),
		keepaliveInterval: keepalive,
		timeout:           timeout,
		events:            make(chan Event, DefaultMaxEventQueueSize),
		status:            StatusActive,
	}
}

func (s *stream) isExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return atomic.LoadInt32(&s.connectedClients) == 0
	}
	reference := s.CreatedAt
	if !s.lastEventAt.IsZero() {
		reference = s.lastEventAt
	}
	return time.Since(reference) > s.timeout
}

func (s *stream) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *stream) getStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stream) recordSent() {
	s.mu.Lock()
	s.lastEventAt = time.Now()
	s.eventsSent++
	s.mu.Unlock()
}

func (s *stream) addClient() { atomic.AddInt32(&s.connectedClients, 1) }

func (s *stream) removeClient() int32 { return atomic.AddInt32(&s.connectedClients, -1) }

// Info is a race-free, read-only snapshot of a stream's metadata.
type Info struct {
	ID               string
	ServiceID        string
	UserID           string
	ToolID           string
	ToolName         string
	Status           Status
	CreatedAt        time.Time
	LastEventAt      time.Time
	EventsSent       int64
	ConnectedClients int32
}

func (s *stream) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:               s.ID,
		ServiceID:        s.ServiceID,
		UserID:           s.UserID,
		ToolID:           s.ToolID,
		ToolName:         s.ToolName,
		Status:           s.status,
		CreatedAt:        s.CreatedAt,
		LastEventAt:      s.lastEventAt,
		EventsSent:       s.eventsSent,
		ConnectedClients: atomic.LoadInt32(&s.connectedClients),
	}
}
