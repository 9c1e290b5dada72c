// Package tracker records every inbound request's lifecycle and exposes
// aggregate request-rate, latency, and error-rate statistics.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxLatencySamples = 1000
	maxErrorSamples   = 100
	staleAfter        = 5 * time.Minute
)

// InFlight is an active request's tracked metadata.
type InFlight struct {
	RequestID string
	Endpoint  string
	Method    string
	ClientIP  string
	UserAgent string
	StartTime time.Time
}

// ErrorRecord is a terminal request that finished with a non-2xx/3xx status.
type ErrorRecord struct {
	Timestamp  time.Time
	Endpoint   string
	Method     string
	StatusCode int
	Error      string
}

// Tracker owns the in-flight table and the rolling aggregate statistics.
type Tracker struct {
	mu sync.Mutex

	inFlight map[string]*InFlight

	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	statusCodes        map[int]int64
	endpoints          map[string]int64
	latencies          []time.Duration // ring buffer, most-recent maxLatencySamples
	errors             []ErrorRecord   // ring buffer, most-recent maxErrorSamples

	startTime time.Time
}

func New() *Tracker {
	return &Tracker{
		inFlight:    make(map[string]*InFlight),
		statusCodes: make(map[int]int64),
		endpoints:   make(map[string]int64),
		startTime:   time.Now(),
	}
}

// Start registers a new in-flight request and returns its request_id.
func (t *Tracker) Start(endpoint, method, clientIP, userAgent string) string {
	requestID := uuid.New().String()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight[requestID] = &InFlight{
		RequestID: requestID,
		Endpoint:  endpoint,
		Method:    method,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		StartTime: time.Now(),
	}
	return requestID
}

// End removes the in-flight entry for requestID and records the terminal
// outcome into the aggregate statistics. Calling End with an unknown
// requestID (already swept as stale) is a safe no-op.
func (t *Tracker) End(requestID string, statusCode int, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.inFlight[requestID]
	if !ok {
		return
	}
	delete(t.inFlight, requestID)

	duration := time.Since(entry.StartTime)
	t.totalRequests++
	t.statusCodes[statusCode]++
	t.endpoints[entry.Method+" "+entry.Endpoint]++

	t.latencies = append(t.latencies, duration)
	if len(t.latencies) > maxLatencySamples {
		t.latencies = t.latencies[len(t.latencies)-maxLatencySamples:]
	}

	if statusCode >= 200 && statusCode < 400 {
		t.successfulRequests++
		return
	}

	t.failedRequests++
	if errMsg == "" {
		return
	}
	t.errors = append(t.errors, ErrorRecord{
		Timestamp:  time.Now(),
		Endpoint:   entry.Endpoint,
		Method:     entry.Method,
		StatusCode: statusCode,
		Error:      errMsg,
	})
	if len(t.errors) > maxErrorSamples {
		t.errors = t.errors[len(t.errors)-maxErrorSamples:]
	}
}

// ActiveRequests returns a snapshot of in-flight requests, longest-running
// first.
func (t *Tracker) ActiveRequests() []InFlight {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]InFlight, 0, len(t.inFlight))
	for _, e := range t.inFlight {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Sweep purges in-flight entries older than 5 minutes, guarding against
// handler crashes that never call End.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	purged := 0
	for id, entry := range t.inFlight {
		if entry.StartTime.Before(cutoff) {
			delete(t.inFlight, id)
			purged++
		}
	}
	return purged
}

// Stats is the aggregate statistics snapshot returned by Snapshot.
type Stats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	ErrorRatePercent   float64
	AverageLatency     time.Duration
	MinLatency         time.Duration
	MaxLatency         time.Duration
	StatusCodes        map[int]int64
	TopEndpoints       []EndpointCount
	RecentErrors       []ErrorRecord
	UptimeSeconds      float64
	RequestsPerSecond  float64
	ActiveRequestCount int
}

type EndpointCount struct {
	Endpoint string
	Count    int64
}

// Snapshot computes the current aggregate statistics.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var avg, min, max time.Duration
	if len(t.latencies) > 0 {
		var sum time.Duration
		min = t.latencies[0]
		max = t.latencies[0]
		for _, d := range t.latencies {
			sum += d
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
		}
		avg = sum / time.Duration(len(t.latencies))
	}

	errorRate := 0.0
	if t.totalRequests > 0 {
		errorRate = float64(t.failedRequests) / float64(t.totalRequests) * 100
	}

	uptime := time.Since(t.startTime).Seconds()
	rps := 0.0
	if uptime > 0 {
		rps = float64(t.totalRequests) / uptime
	}

	statusCodes := make(map[int]int64, len(t.statusCodes))
	for k, v := range t.statusCodes {
		statusCodes[k] = v
	}

	top := make([]EndpointCount, 0, len(t.endpoints))
	for ep, count := range t.endpoints {
		top = append(top, EndpointCount{Endpoint: ep, Count: count})
	}
	sort.Slice(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > 10 {
		top = top[:10]
	}

	recentErrors := append([]ErrorRecord(nil), t.errors...)
	if len(recentErrors) > 10 {
		recentErrors = recentErrors[len(recentErrors)-10:]
	}

	return Stats{
		TotalRequests:      t.totalRequests,
		SuccessfulRequests: t.successfulRequests,
		FailedRequests:     t.failedRequests,
		ErrorRatePercent:   errorRate,
		AverageLatency:     avg,
		MinLatency:         min,
		MaxLatency:         max,
		StatusCodes:        statusCodes,
		TopEndpoints:       top,
		RecentErrors:       recentErrors,
		UptimeSeconds:      uptime,
		RequestsPerSecond:  rps,
		ActiveRequestCount: len(t.inFlight),
	}
}
