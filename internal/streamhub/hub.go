package streamhub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/gateway-core/infrastructure/logging"
)

var (
	ErrStreamNotFound = errors.New("streamhub: stream not found")
	ErrStreamInactive = errors.New("streamhub: stream is not active")
	ErrQueueFull      = errors.New("streamhub: event queue full")
)

// Hub owns every open stream and the reaper that expires stale ones.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]*stream
	logger  *logging.Logger
}

func New(logger *logging.Logger) *Hub {
	return &Hub{streams: make(map[string]*stream), logger: logger}
}

// CreateOptions configures a new stream; zero values fall back to the
// package defaults.
type CreateOptions struct {
	ServiceID         string
	UserID            string
	ToolID            string
	ToolName          string
	KeepaliveInterval time.Duration
	Timeout           time.Duration
}

// CreateStream opens a new stream and returns its id.
func (h *Hub) CreateStream(opts CreateOptions) string {
	keepalive := opts.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	id := uuid.New().String()
	s := newStream(id, opts.ServiceID, opts.UserID, opts.ToolID, opts.ToolName, keepalive, timeout)

	h.mu.Lock()
	h.streams[id] = s
	h.mu.Unlock()

	h.logger.Info(context.Background(), "sse stream created", map[string]interface{}{
		"stream_id": id, "service_id": opts.ServiceID,
	})
	return id
}

// SendEvent enqueues data onto a stream, blocking up to 5 seconds for room
// in its bounded queue.
func (h *Hub) SendEvent(streamID string, eventType EventType, data map[string]interface{}) error {
	h.mu.RLock()
	s, ok := h.streams[streamID]
	h.mu.RUnlock()
	if !ok {
		return ErrStreamNotFound
	}
	if s.getStatus() != StatusActive {
		return ErrStreamInactive
	}

	event := newEvent(eventType, data)
	select {
	case s.events <- event:
		return nil
	case <-time.After(sendEventTimeout):
		return ErrQueueFull
	}
}

func (h *Hub) SendProgress(streamID string, progress int, message string) error {
	return h.SendEvent(streamID, EventProgress, map[string]interface{}{"progress": progress, "message": message})
}

func (h *Hub) SendStatus(streamID, status, message string) error {
	return h.SendEvent(streamID, EventStatus, map[string]interface{}{"status": status, "message": message})
}

func (h *Hub) SendError(streamID, errMsg string) error {
	return h.SendEvent(streamID, EventError, map[string]interface{}{"error": errMsg})
}

func (h *Hub) SendComplete(streamID string, result interface{}) error {
	return h.SendEvent(streamID, EventComplete, map[string]interface{}{"result": result})
}

// CloseStream marks a stream completed. Still-connected readers observe the
// status flip and terminate after their next keepalive tick.
func (h *Hub) CloseStream(streamID string) error {
	h.mu.RLock()
	s, ok := h.streams[streamID]
	h.mu.RUnlock()
	if !ok {
		return ErrStreamNotFound
	}
	s.setStatus(StatusCompleted)
	return nil
}

// GetStreamInfo returns a stream's metadata snapshot.
func (h *Hub) GetStreamInfo(streamID string) (Info, bool) {
	h.mu.RLock()
	s, ok := h.streams[streamID]
	h.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// ListActiveStreams returns active streams, optionally filtered by user or
// service id.
func (h *Hub) ListActiveStreams(userID, serviceID string) []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Info, 0, len(h.streams))
	for _, s := range h.streams {
		info := s.info()
		if info.Status != StatusActive {
			continue
		}
		if userID != "" && info.UserID != userID {
			continue
		}
		if serviceID != "" && info.ServiceID != serviceID {
			continue
		}
		out = append(out, info)
	}
	return out
}

// Stats is the hub-wide statistics snapshot.
type Stats struct {
	TotalStreams     int
	ActiveStreams    int
	CompletedStreams int
	ErrorStreams     int
	TotalEventsSent  int64
	ConnectedClients int32
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var stats Stats
	stats.TotalStreams = len(h.streams)
	for _, s := range h.streams {
		info := s.info()
		switch info.Status {
		case StatusActive:
			stats.ActiveStreams++
		case StatusCompleted:
			stats.CompletedStreams++
		case StatusError:
			stats.ErrorStreams++
		}
		stats.TotalEventsSent += info.EventsSent
		stats.ConnectedClients += info.ConnectedClients
	}
	return stats
}

// Reap closes and evicts expired streams, returning the count removed.
func (h *Hub) Reap() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	purged := 0
	for id, s := range h.streams {
		if s.isExpired() {
			s.setStatus(StatusCompleted)
			delete(h.streams, id)
			purged++
		}
	}
	return purged
}

// StartReaper runs Reap on interval until stop is closed.
func (h *Hub) StartReaper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := h.Reap(); n > 0 {
					h.logger.Info(context.Background(), "reaped expired sse streams", map[string]interface{}{"count": n})
				}
			case <-stop:
				return
			}
		}
	}()
}

// Shutdown closes every open stream.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.streams {
		s.setStatus(StatusCompleted)
	}
}
