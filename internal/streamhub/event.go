// Package streamhub manages server-sent event streams: per-stream bounded
// event queues, keepalive pulses, client fan-out, and a TTL reaper for
// abandoned streams.
package streamhub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the SSE "event:" field.
type EventType string

const (
	EventKeepalive EventType = "keepalive"
	EventStart     EventType = "start"
	EventChunk     EventType = "chunk"
	EventResult    EventType = "result"
	EventError     EventType = "error"
	EventComplete  EventType = "complete"
	EventProgress  EventType = "progress"
	EventStatus    EventType = "status"
)

// Event is a single message queued on a stream.
type Event struct {
	Type      EventType
	Data      map[string]interface{}
	Timestamp time.Time
	ID        string
}

func newEvent(eventType EventType, data map[string]interface{}) Event {
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		ID:        uuid.New().String(),
	}
}

// Format renders the event in the wire text/event-stream format.
func (e Event) Format() (string, error) {
	payload := make(map[string]interface{}, len(e.Data)+2)
	for k, v := range e.Data {
		payload[k] = v
	}
	payload["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	payload["event_id"] = e.ID

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("streamhub: marshal event: %w", err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, body), nil
}
