// Package registry implements the service registry and per-service load
// balancer: it holds the set of live backend instances, runs active health
// checks against them, and selects instances for the proxy engine.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	svcerrors "github.com/r3e-network/gateway-core/infrastructure/errors"
	"github.com/r3e-network/gateway-core/infrastructure/logging"
	"github.com/r3e-network/gateway-core/infrastructure/metrics"
)

// Status is the lifecycle state of a ServiceInstance.
type Status string

const (
	StatusStarting Status = "starting"
	StatusHealthy  Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusStopping Status = "stopping"
	StatusDown     Status = "down"
)

// ServiceInstance is one backend process registered under a service name.
type ServiceInstance struct {
	ServiceName     string
	InstanceID      string
	Host            string
	Port            int
	Endpoints       map[string]string
	Metadata        map[string]string
	Weight          int
	Connections     int64
	Status          Status
	LastHealthCheck time.Time
	HealthCheckPath string
	RegisterTime    time.Time
}

// Identity returns the (service_name, instance_id) pair that uniquely
// identifies this instance within the registry.
func (i *ServiceInstance) Identity() string {
	return i.ServiceName + "/" + i.InstanceID
}

// BaseURL is the scheme://host:port prefix the Proxy Engine forwards to.
func (i *ServiceInstance) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", i.Host, i.Port)
}

// HealthCheckURL is the full URL probed by the registry's health-check loop.
func (i *ServiceInstance) HealthCheckURL() string {
	path := i.HealthCheckPath
	if path == "" {
		path = "/health"
	}
	return i.BaseURL() + path
}

// Listener is notified of registry mutations and health transitions.
type Listener func(action string, instance ServiceInstance)

// Registry holds, per service name, the ordered set of instances and their
// load balancer. All mutation is serialized under mu; Select takes a
// consistent snapshot without blocking concurrent registrations.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]map[string]*ServiceInstance // service -> instance_id -> instance
	order     map[string][]string                    // service -> instance_id insertion order
	balancers map[string]*LoadBalancer

	httpClient *http.Client
	listeners  []Listener
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// Config controls health-check timing and HTTP client behavior.
type Config struct {
	HealthCheckTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{HealthCheckTimeout: 5 * time.Second}
}

func New(logger *logging.Logger, m *metrics.Metrics, cfg Config) *Registry {
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = 5 * time.Second
	}
	return &Registry{
		instances:  make(map[string]map[string]*ServiceInstance),
		order:      make(map[string][]string),
		balancers:  make(map[string]*LoadBalancer),
		httpClient: &http.Client{Timeout: cfg.HealthCheckTimeout},
		logger:     logger,
		metrics:    m,
	}
}

// OnChange registers a listener invoked on register/deregister/health
// transitions. Not safe to call concurrently with registry mutations.
func (r *Registry) OnChange(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(action string, inst ServiceInstance) {
	for _, l := range r.listeners {
		l(action, inst)
	}
}

// Register inserts a new instance or merges into an existing one with the
// same identity, resets its status to starting pending an immediate probe,
// and fires a synchronous health check before returning.
func (r *Registry) Register(ctx context.Context, inst ServiceInstance) error {
	if inst.ServiceName == "" || inst.InstanceID == "" {
		return svcerrors.BadRequest("service_name and instance_id are required")
	}
	if inst.Weight <= 0 {
		inst.Weight = 1
	}
	inst.Status = StatusStarting
	inst.RegisterTime = time.Now()

	r.mu.Lock()
	if r.instances[inst.ServiceName] == nil {
		r.instances[inst.ServiceName] = make(map[string]*ServiceInstance)
		r.balancers[inst.ServiceName] = NewLoadBalancer()
	}
	if _, exists := r.instances[inst.ServiceName][inst.InstanceID]; !exists {
		r.order[inst.ServiceName] = append(r.order[inst.ServiceName], inst.InstanceID)
	}
	stored := inst
	r.instances[inst.ServiceName][inst.InstanceID] = &stored
	r.mu.Unlock()

	r.refreshBalancerSnapshot(inst.ServiceName)
	r.notify("register", stored)
	r.probeOne(ctx, inst.ServiceName, inst.InstanceID)
	return nil
}

// Deregister removes an instance; when it was the last instance of the
// service, the service entry and its LoadBalancer are removed entirely.
func (r *Registry) Deregister(serviceName, instanceID string) error {
	r.mu.Lock()
	svcInstances, ok := r.instances[serviceName]
	if !ok {
		r.mu.Unlock()
		return svcerrors.NotFound(serviceName)
	}
	inst, ok := svcInstances[instanceID]
	if !ok {
		r.mu.Unlock()
		return svcerrors.NotFound(instanceID)
	}
	delete(svcInstances, instanceID)
	order := r.order[serviceName]
	for idx, id := range order {
		if id == instanceID {
			r.order[serviceName] = append(order[:idx], order[idx+1:]...)
			break
		}
	}
	empty := len(svcInstances) == 0
	if empty {
		delete(r.instances, serviceName)
		delete(r.order, serviceName)
		delete(r.balancers, serviceName)
	}
	removed := *inst
	r.mu.Unlock()

	if !empty {
		r.refreshBalancerSnapshot(serviceName)
	}
	r.notify("deregister", removed)
	return nil
}

// Select delegates to the service's LoadBalancer over its healthy subset.
func (r *Registry) Select(serviceName string, strategy Strategy) (*ServiceInstance, error) {
	r.mu.RLock()
	lb, ok := r.balancers[serviceName]
	r.mu.RUnlock()
	if !ok {
		return nil, svcerrors.UpstreamUnavailable(serviceName)
	}
	inst := lb.Pick(strategy)
	if inst == nil {
		return nil, svcerrors.UpstreamUnavailable(serviceName)
	}
	if r.metrics != nil {
		r.metrics.RecordLoadBalancerPick(serviceName, string(strategy))
	}
	return inst, nil
}

// Describe returns a read-only snapshot of all instances of a service, or of
// every service when serviceName is empty.
func (r *Registry) Describe(serviceName string) map[string][]ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string][]ServiceInstance)
	for name, ids := range r.order {
		if serviceName != "" && name != serviceName {
			continue
		}
		for _, id := range ids {
			result[name] = append(result[name], *r.instances[name][id])
		}
	}
	return result
}

// IncrementConnections/DecrementConnections maintain the per-instance
// in-flight count used by the least-connections strategy.
func (r *Registry) IncrementConnections(serviceName, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[serviceName][instanceID]; ok {
		inst.Connections++
	}
}

func (r *Registry) DecrementConnections(serviceName, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[serviceName][instanceID]; ok && inst.Connections > 0 {
		inst.Connections--
	}
}

func (r *Registry) refreshBalancerSnapshot(serviceName string) {
	r.mu.Lock()
	lb := r.balancers[serviceName]
	if lb == nil {
		r.mu.Unlock()
		return
	}
	healthy := make([]*ServiceInstance, 0, len(r.order[serviceName]))
	for _, id := range r.order[serviceName] {
		inst := r.instances[serviceName][id]
		if inst.Status == StatusHealthy {
			healthy = append(healthy, inst)
		}
	}
	r.mu.Unlock()

	lb.UpdateSnapshot(healthy)
	if r.metrics != nil {
		r.metrics.SetHealthyInstances(serviceName, len(healthy))
	}
}

// RunHealthChecks probes every registered instance once, concurrently.
// Individual probe failures are swallowed so one bad backend never aborts
// the sweep.
func (r *Registry) RunHealthChecks(ctx context.Context) {
	r.mu.RLock()
	type target struct{ service, instance string }
	var targets []target
	for service, ids := range r.order {
		for _, id := range ids {
			targets = append(targets, target{service, id})
		}
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(service, instance string) {
			defer wg.Done()
			r.probeOne(ctx, service, instance)
		}(t.service, t.instance)
	}
	wg.Wait()
}

// StartHealthChecks runs RunHealthChecks on interval until stop is closed.
func (r *Registry) StartHealthChecks(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.RunHealthChecks(context.Background())
			case <-stop:
				return
			}
		}
	}()
}

func (r *Registry) probeOne(ctx context.Context, serviceName, instanceID string) {
	r.mu.RLock()
	svcInstances, ok := r.instances[serviceName]
	var inst ServiceInstance
	if ok {
		if p, ok2 := svcInstances[instanceID]; ok2 {
			inst = *p
		} else {
			ok = false
		}
	}
	r.mu.RUnlock()
	if !ok {
		return
	}

	healthy, probeErr := r.probe(ctx, &inst)

	r.mu.Lock()
	current, exists := r.instances[serviceName][instanceID]
	if !exists {
		r.mu.Unlock()
		return
	}
	prevStatus := current.Status
	current.LastHealthCheck = time.Now()
	if healthy {
		current.Status = StatusHealthy
	} else {
		current.Status = StatusUnhealthy
	}
	newStatus := current.Status
	snapshot := *current
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.LogHealthCheck(ctx, serviceName, instanceID, healthy, probeErr)
	}
	if r.metrics != nil {
		outcome := "healthy"
		if !healthy {
			outcome = "unhealthy"
		}
		r.metrics.RecordHealthCheck(serviceName, outcome)
	}

	if newStatus != prevStatus {
		if newStatus == StatusHealthy {
			r.notify("health_restored", snapshot)
		} else if prevStatus == StatusHealthy {
			r.notify("health_lost", snapshot)
		}
		r.refreshBalancerSnapshot(serviceName)
	}
}

// probe performs a single short-timeout GET against the instance's health
// endpoint. A 2xx response counts as healthy unless its body carries a
// "status" field whose value is not "healthy"; an empty, non-JSON or
// status-less 2xx body is healthy, and any non-2xx status is not.
func (r *Registry) probe(ctx context.Context, inst *ServiceInstance) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.HealthCheckURL(), nil)
	if err != nil {
		return false, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || len(body) == 0 {
		return true, nil
	}
	status := gjson.GetBytes(body, "status")
	if !status.Exists() {
		return true, nil
	}
	return status.String() == "healthy", nil
}
