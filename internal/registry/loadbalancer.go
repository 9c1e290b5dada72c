package registry

import (
	"math/rand"
	"sync"
)

// Strategy selects which algorithm a LoadBalancer uses to pick an instance.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyRandom           Strategy = "random"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyWeightedRR       Strategy = "weighted_round_robin"
)

// LoadBalancer holds the healthy-instance snapshot for one service and the
// strategy-specific state (round-robin cursor, weighted ring) used to pick
// among it. A single LoadBalancer instance is shared by all strategies for
// a service; the strategy is chosen per-call.
type LoadBalancer struct {
	mu       sync.Mutex
	snapshot []*ServiceInstance
	rrCursor int
	ring     []*ServiceInstance // weighted round-robin: instances repeated `weight` times
	ringCursor int
}

func NewLoadBalancer() *LoadBalancer {
	return &LoadBalancer{}
}

// UpdateSnapshot atomically replaces the healthy-instance list. The
// round-robin cursor is only reset when the new snapshot is strictly
// smaller than the cursor, so routine churn does not restart the rotation.
func (lb *LoadBalancer) UpdateSnapshot(instances []*ServiceInstance) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.snapshot = instances
	if lb.rrCursor >= len(instances) {
		lb.rrCursor = 0
	}

	lb.ring = buildWeightedRing(instances)
	if lb.ringCursor >= len(lb.ring) {
		lb.ringCursor = 0
	}
}

func buildWeightedRing(instances []*ServiceInstance) []*ServiceInstance {
	var ring []*ServiceInstance
	totalWeight := 0
	for _, inst := range instances {
		totalWeight += inst.Weight
	}
	if totalWeight == 0 {
		return nil
	}
	for _, inst := range instances {
		w := inst.Weight
		if w <= 0 {
			w = 1
		}
		for i := 0; i < w; i++ {
			ring = append(ring, inst)
		}
	}
	return ring
}

// Pick selects one instance using the given strategy. Returns nil when no
// healthy instance is available — an expected, recoverable condition the
// caller must handle (spec: registry surfaces UpstreamUnavailable).
func (lb *LoadBalancer) Pick(strategy Strategy) *ServiceInstance {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(lb.snapshot) == 0 {
		return nil
	}

	switch strategy {
	case StrategyRandom:
		return lb.snapshot[rand.Intn(len(lb.snapshot))]
	case StrategyLeastConnections:
		best := lb.snapshot[0]
		for _, inst := range lb.snapshot[1:] {
			if inst.Connections < best.Connections {
				best = inst
			}
		}
		return best
	case StrategyWeightedRR:
		if len(lb.ring) == 0 {
			return lb.pickRoundRobinLocked()
		}
		if lb.ringCursor >= len(lb.ring) {
			lb.ringCursor = 0
		}
		inst := lb.ring[lb.ringCursor]
		lb.ringCursor = (lb.ringCursor + 1) % len(lb.ring)
		return inst
	case StrategyRoundRobin:
		fallthrough
	default:
		return lb.pickRoundRobinLocked()
	}
}

func (lb *LoadBalancer) pickRoundRobinLocked() *ServiceInstance {
	if lb.rrCursor >= len(lb.snapshot) {
		lb.rrCursor = 0
	}
	inst := lb.snapshot[lb.rrCursor]
	lb.rrCursor = (lb.rrCursor + 1) % len(lb.snapshot)
	return inst
}
