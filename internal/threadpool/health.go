package threadpool

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	queueUtilThresholdPct  = 90.0
	successRateThresholdPct = 95.0
	successRateMinSamples  = 10
	backlogMultiplier      = 2
)

// PoolHealth is one pool's degradation verdict.
type PoolHealth struct {
	Name    Name
	Healthy bool
	Issues  []string
}

// Health is the aggregate health report across all pools plus host
// resource pressure, gathered via gopsutil.
type Health struct {
	Healthy bool
	Pools   map[Name]PoolHealth
	Issues  []string
	Host    HostStats
}

// HostStats is a best-effort snapshot of host resource pressure. Fields are
// zero-valued if gopsutil fails to sample them (never treated as fatal).
type HostStats struct {
	CPUPercent    float64
	MemoryPercent float64
}

func sampleHostStats() HostStats {
	var hs HostStats
	if percents, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(percents) > 0 {
		hs.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hs.MemoryPercent = vm.UsedPercent
	}
	return hs
}

// CheckHealth evaluates queue saturation, success rate, and backlog for
// every pool, enriched with host CPU/memory pressure.
func (m *Manager) CheckHealth(ctx context.Context) Health {
	all, _ := m.AllStats()

	health := Health{Healthy: true, Pools: make(map[Name]PoolHealth, len(all)), Host: sampleHostStats()}

	for name, s := range all {
		ph := PoolHealth{Name: name, Healthy: true}

		if s.QueueUtilPct > queueUtilThresholdPct {
			ph.Healthy = false
			ph.Issues = append(ph.Issues, fmt.Sprintf("queue utilization too high: %.1f%%", s.QueueUtilPct))
		}
		if s.TotalSubmitted > successRateMinSamples && s.SuccessRatePct < successRateThresholdPct {
			ph.Healthy = false
			ph.Issues = append(ph.Issues, fmt.Sprintf("success rate too low: %.1f%%", s.SuccessRatePct))
		}
		if s.PendingTasks > int64(s.MaxWorkers*backlogMultiplier) {
			ph.Healthy = false
			ph.Issues = append(ph.Issues, fmt.Sprintf("backlog severe: %d pending tasks", s.PendingTasks))
		}

		health.Pools[name] = ph
		if !ph.Healthy {
			health.Healthy = false
			for _, issue := range ph.Issues {
				health.Issues = append(health.Issues, fmt.Sprintf("%s: %s", name, issue))
			}
		}
	}

	return health
}
