package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	svcerrors "github.com/r3e-network/gateway-core/infrastructure/errors"
	"github.com/r3e-network/gateway-core/infrastructure/logging"
	"github.com/r3e-network/gateway-core/infrastructure/resilience"
	"github.com/r3e-network/gateway-core/internal/registry"
)

const (
	// DefaultTTL matches the 300s TTL a backend registration carries absent
	// an explicit override.
	DefaultTTL = 300 * time.Second
	// DefaultReconcileInterval matches the cleanup worker's polling cadence.
	DefaultReconcileInterval = 60 * time.Second

	storeOpTimeout = 5 * time.Second
)

// Bridge is the authoritative view of what backends have told it is live; it
// mirrors that view into the Registry and, optionally, into a durable store.
type Bridge struct {
	registry *registry.Registry
	store    Store // may be nil: durable mirroring is optional
	logger   *logging.Logger
	retry    resilience.RetryConfig

	mu          sync.RWMutex
	authorative map[string]Registration // service_id -> registration

	totalRegistrations   int64
	totalDeregistrations int64
	totalReconciled      int64
}

// New builds a Bridge over reg. store may be nil when durable mirroring is
// not configured; the bridge then operates purely in-memory.
func New(reg *registry.Registry, store Store, logger *logging.Logger) *Bridge {
	return &Bridge{
		registry:    reg,
		store:       store,
		logger:      logger,
		retry:       resilience.DefaultRetryConfig(),
		authorative: make(map[string]Registration),
	}
}

// Register validates reg, upserts it into the Registry, records it as the
// bridge's authoritative entry, and best-effort mirrors it to the durable
// store. A store failure never fails the registration.
func (b *Bridge) Register(ctx context.Context, reg Registration) error {
	if reg.ServiceID == "" || reg.ServiceName == "" || reg.Host == "" {
		return svcerrors.BadRequest("service_id, service_name and host are required")
	}
	if reg.InstanceID == "" {
		reg.InstanceID = reg.ServiceID
	}
	if reg.Weight <= 0 {
		reg.Weight = 1
	}
	if reg.TTL <= 0 {
		reg.TTL = DefaultTTL
	}
	now := time.Now()
	reg.RegisteredAt = now
	reg.LastRenewedAt = now
	if reg.HealthStatus == "" {
		reg.HealthStatus = HealthUnknown
	}

	if err := b.registry.Register(ctx, registry.ServiceInstance{
		ServiceName:     reg.ServiceName,
		InstanceID:      reg.InstanceID,
		Host:            reg.Host,
		Port:            reg.Port,
		Metadata:        reg.Metadata,
		Weight:          reg.Weight,
		HealthCheckPath: reg.HealthCheckPath,
	}); err != nil {
		return err
	}

	b.mu.Lock()
	b.authorative[reg.ServiceID] = reg
	b.totalRegistrations++
	b.mu.Unlock()

	b.mirror(ctx, reg)

	b.logger.Info(ctx, "bridge registered backend", map[string]interface{}{
		"service_id": reg.ServiceID, "service_name": reg.ServiceName,
	})
	return nil
}

// Renew extends a registration's TTL without re-probing or re-registering
// with the Registry; it is what a backend's own heartbeat calls.
func (b *Bridge) Renew(serviceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.authorative[serviceID]
	if !ok {
		return svcerrors.NotFound(serviceID)
	}
	reg.LastRenewedAt = time.Now()
	b.authorative[serviceID] = reg
	return nil
}

// Deregister removes serviceID from both the Registry and the bridge's own
// view, and from the durable store if configured.
func (b *Bridge) Deregister(ctx context.Context, serviceID string) error {
	b.mu.Lock()
	reg, ok := b.authorative[serviceID]
	if !ok {
		b.mu.Unlock()
		return svcerrors.NotFound(serviceID)
	}
	delete(b.authorative, serviceID)
	b.totalDeregistrations++
	b.mu.Unlock()

	err := b.registry.Deregister(reg.ServiceName, reg.InstanceID)
	if err != nil && svcerrors.As(err) == nil {
		return err
	}

	if b.store != nil {
		storeCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
		defer cancel()
		if delErr := b.store.Delete(storeCtx, serviceID); delErr != nil {
			b.logger.Warn(ctx, "bridge durable mirror delete failed", map[string]interface{}{
				"service_id": serviceID, "error": delErr.Error(),
			})
		}
	}

	b.logger.Info(ctx, "bridge deregistered backend", map[string]interface{}{
		"service_id": serviceID, "service_name": reg.ServiceName,
	})
	return nil
}

// DeregisterInstance looks up the authoritative registration by its
// (service_name, instance_id) pair and deregisters it, for callers that only
// know the Registry's identity shape rather than the bridge's service_id.
func (b *Bridge) DeregisterInstance(ctx context.Context, serviceName, instanceID string) error {
	b.mu.RLock()
	var serviceID string
	for id, reg := range b.authorative {
		if reg.ServiceName == serviceName && reg.InstanceID == instanceID {
			serviceID = id
			break
		}
	}
	b.mu.RUnlock()
	if serviceID == "" {
		return svcerrors.NotFound(serviceName + "/" + instanceID)
	}
	return b.Deregister(ctx, serviceID)
}

func (b *Bridge) mirror(ctx context.Context, reg Registration) {
	if b.store == nil {
		return
	}
	err := resilience.Retry(ctx, b.retry, func() error {
		storeCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
		defer cancel()
		return b.store.Upsert(storeCtx, reg)
	})
	if err != nil {
		b.logger.Warn(ctx, "bridge durable mirror upsert failed", map[string]interface{}{
			"service_id": reg.ServiceID, "error": err.Error(),
		})
	}
}

// LoadFromStore replays the durable mirror into the in-memory authoritative
// view and the Registry, used once at startup to recover across restarts.
func (b *Bridge) LoadFromStore(ctx context.Context) (int, error) {
	if b.store == nil {
		return 0, nil
	}
	regs, err := b.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load bridge mirror: %w", err)
	}

	loaded := 0
	for _, reg := range regs {
		if reg.Expired(time.Now()) {
			continue
		}
		if err := b.registry.Register(ctx, registry.ServiceInstance{
			ServiceName:     reg.ServiceName,
			InstanceID:      reg.InstanceID,
			Host:            reg.Host,
			Port:            reg.Port,
			Metadata:        reg.Metadata,
			Weight:          reg.Weight,
			HealthCheckPath: reg.HealthCheckPath,
		}); err != nil {
			b.logger.Warn(ctx, "bridge recovery register failed", map[string]interface{}{
				"service_id": reg.ServiceID, "error": err.Error(),
			})
			continue
		}
		b.mu.Lock()
		b.authorative[reg.ServiceID] = reg
		b.mu.Unlock()
		loaded++
	}
	return loaded, nil
}

// Reconcile drops authoritative entries past their TTL from both the bridge
// and the Registry, and returns the count removed. Backends that stop
// heartbeating eventually drift out of the live set this way even if they
// never call Deregister.
func (b *Bridge) Reconcile(ctx context.Context) int {
	now := time.Now()

	b.mu.Lock()
	var expired []Registration
	for id, reg := range b.authorative {
		if reg.Expired(now) {
			expired = append(expired, reg)
			delete(b.authorative, id)
		}
	}
	b.totalReconciled += int64(len(expired))
	b.mu.Unlock()

	for _, reg := range expired {
		if err := b.registry.Deregister(reg.ServiceName, reg.InstanceID); err != nil {
			b.logger.Warn(ctx, "bridge reconcile deregister failed", map[string]interface{}{
				"service_id": reg.ServiceID, "error": err.Error(),
			})
		}
		if b.store != nil {
			storeCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
			_ = b.store.Delete(storeCtx, reg.ServiceID)
			cancel()
		}
		b.logger.Info(ctx, "bridge reconciliation dropped drifted service", map[string]interface{}{
			"service_id": reg.ServiceID, "service_name": reg.ServiceName,
		})
	}
	return len(expired)
}

// StartReconciler runs Reconcile on interval until stop is closed.
func (b *Bridge) StartReconciler(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Reconcile(context.Background())
			case <-stop:
				return
			}
		}
	}()
}

// Stats is a point-in-time summary of bridge activity.
type Stats struct {
	ActiveRegistrations  int
	TotalRegistrations   int64
	TotalDeregistrations int64
	TotalReconciled      int64
}

func (b *Bridge) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		ActiveRegistrations:  len(b.authorative),
		TotalRegistrations:   b.totalRegistrations,
		TotalDeregistrations: b.totalDeregistrations,
		TotalReconciled:      b.totalReconciled,
	}
}

// List returns a snapshot of every authoritative registration the bridge
// currently knows about.
func (b *Bridge) List() []Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Registration, 0, len(b.authorative))
	for _, reg := range b.authorative {
		out = append(out, reg)
	}
	return out
}
