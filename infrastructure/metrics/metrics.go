// Package metrics provides Prometheus metrics collection for the gateway core.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/gateway-core/infrastructure/runtime"
)

// Metrics holds all Prometheus collectors exposed by the gateway.
type Metrics struct {
	// HTTP / plane metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ErrorsTotal *prometheus.CounterVec

	// Registry / load balancer
	InstancesHealthy  *prometheus.GaugeVec
	HealthChecksTotal *prometheus.CounterVec
	LoadBalancerPicks *prometheus.CounterVec

	// Proxy engine
	ProxyForwardsTotal  *prometheus.CounterVec
	ProxyForwardRetries *prometheus.CounterVec
	ProxyForwardLatency *prometheus.HistogramVec

	// Task scheduler / thread pools
	TaskQueueDepth    *prometheus.GaugeVec
	TasksTotal        *prometheus.CounterVec
	ThreadPoolPending *prometheus.GaugeVec

	// Stream hub
	StreamsActive    prometheus.Gauge
	StreamEventsSent *prometheus.CounterVec

	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry, primarily
// so tests can avoid colliding with the global default registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_requests_total", Help: "Total number of requests handled, by plane, method and status."},
			[]string{"plane", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Request handling duration in seconds, by plane.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"plane"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "gateway_requests_in_flight", Help: "Requests currently being handled."},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_errors_total", Help: "Total errors by kind."},
			[]string{"kind"},
		),
		InstancesHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "gateway_registry_healthy_instances", Help: "Healthy instance count per service."},
			[]string{"service"},
		),
		HealthChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_health_checks_total", Help: "Total health probes, by service and outcome."},
			[]string{"service", "outcome"},
		),
		LoadBalancerPicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_loadbalancer_picks_total", Help: "Instance selections, by service and strategy."},
			[]string{"service", "strategy"},
		),
		ProxyForwardsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_proxy_forwards_total", Help: "Upstream forward attempts, by service and outcome."},
			[]string{"service", "outcome"},
		),
		ProxyForwardRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_proxy_retries_total", Help: "Upstream forward retries, by service."},
			[]string{"service"},
		),
		ProxyForwardLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_proxy_forward_duration_seconds",
				Help:    "Upstream forward latency in seconds, by service.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service"},
		),
		TaskQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "gateway_task_queue_depth", Help: "Scheduler queue depth, by priority."},
			[]string{"priority"},
		),
		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_tasks_total", Help: "Tasks processed, by terminal status."},
			[]string{"status"},
		),
		ThreadPoolPending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "gateway_threadpool_pending", Help: "Pending submissions per named pool."},
			[]string{"pool"},
		),
		StreamsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "gateway_streams_active", Help: "Currently active SSE streams."},
		),
		StreamEventsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_stream_events_total", Help: "SSE events delivered, by event type."},
			[]string{"event_type"},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "gateway_uptime_seconds", Help: "Gateway process uptime in seconds."},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "gateway_info", Help: "Static gateway build information."},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal, m.RequestDuration, m.RequestsInFlight, m.ErrorsTotal,
			m.InstancesHealthy, m.HealthChecksTotal, m.LoadBalancerPicks,
			m.ProxyForwardsTotal, m.ProxyForwardRetries, m.ProxyForwardLatency,
			m.TaskQueueDepth, m.TasksTotal, m.ThreadPoolPending,
			m.StreamsActive, m.StreamEventsSent,
			m.ServiceUptime, m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)
	return m
}

func (m *Metrics) RecordRequest(plane, method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(plane, method, status).Inc()
	m.RequestDuration.WithLabelValues(plane).Observe(duration.Seconds())
}

func (m *Metrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetHealthyInstances(service string, count int) {
	m.InstancesHealthy.WithLabelValues(service).Set(float64(count))
}

func (m *Metrics) RecordHealthCheck(service, outcome string) {
	m.HealthChecksTotal.WithLabelValues(service, outcome).Inc()
}

func (m *Metrics) RecordLoadBalancerPick(service, strategy string) {
	m.LoadBalancerPicks.WithLabelValues(service, strategy).Inc()
}

func (m *Metrics) RecordProxyForward(service, outcome string, retries int, duration time.Duration) {
	m.ProxyForwardsTotal.WithLabelValues(service, outcome).Inc()
	if retries > 0 {
		m.ProxyForwardRetries.WithLabelValues(service).Add(float64(retries))
	}
	m.ProxyForwardLatency.WithLabelValues(service).Observe(duration.Seconds())
}

func (m *Metrics) SetTaskQueueDepth(priority string, depth int) {
	m.TaskQueueDepth.WithLabelValues(priority).Set(float64(depth))
}

func (m *Metrics) RecordTaskTerminal(status string) {
	m.TasksTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetThreadPoolPending(pool string, pending int) {
	m.ThreadPoolPending.WithLabelValues(pool).Set(float64(pending))
}

func (m *Metrics) SetStreamsActive(count int) {
	m.StreamsActive.Set(float64(count))
}

func (m *Metrics) RecordStreamEvent(eventType string) {
	m.StreamEventsSent.WithLabelValues(eventType).Inc()
}

func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
//   - production: disabled unless explicitly enabled via METRICS_ENABLED
//   - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
