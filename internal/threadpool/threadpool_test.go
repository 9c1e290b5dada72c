package threadpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/gateway-core/infrastructure/logging"
)

func testManager(t *testing.T) (*Manager, context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m := New(ctx, logging.New("threadpool-test", "error", "json"))
	return m, ctx, cancel
}

func TestSubmit_RunsOnNamedPool(t *testing.T) {
	m, _, cancel := testManager(t)
	defer cancel()

	done := make(chan struct{})
	_, err := m.Submit(PoolIO, func(ctx context.Context) error {
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}

	require.Eventually(t, func() bool {
		stats, _ := m.Stats(PoolIO)
		return stats.CompletedTasks == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSubmit_UnknownPoolErrors(t *testing.T) {
	m, _, cancel := testManager(t)
	defer cancel()

	_, err := m.Submit("nonexistent", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrUnknownPool)
}

func TestSubmit_FailedJobIncrementsFailedCount(t *testing.T) {
	m, _, cancel := testManager(t)
	defer cancel()

	_, err := m.Submit(PoolCPU, func(ctx context.Context) error {
		return errors.New("boom")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, _ := m.Stats(PoolCPU)
		return stats.FailedTasks == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSubmit_QueueFullReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New(ctx, logging.New("threadpool-test", "error", "json"))
	require.NoError(t, m.Resize(PoolHealthCheck, 0))

	blockCh := make(chan struct{})
	cfg := DefaultConfigs()[PoolHealthCheck]
	for i := 0; i < cfg.QueueSize; i++ {
		_, err := m.Submit(PoolHealthCheck, func(ctx context.Context) error {
			<-blockCh
			return nil
		})
		require.NoError(t, err)
	}

	_, err := m.Submit(PoolHealthCheck, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)
	close(blockCh)
}

func TestResize_RecreatesPoolWithNewWorkerCount(t *testing.T) {
	m, _, cancel := testManager(t)
	defer cancel()

	require.NoError(t, m.Resize(PoolCPU, 8))

	stats, ok := m.Stats(PoolCPU)
	require.True(t, ok)
	assert.Equal(t, 8, stats.MaxWorkers)
}

func TestAllStats_AggregatesAcrossPools(t *testing.T) {
	m, _, cancel := testManager(t)
	defer cancel()

	_, all := m.AllStats()
	assert.Equal(t, len(DefaultConfigs()), all.TotalPools)
}

func TestCheckHealth_FlagsSevereBacklog(t *testing.T) {
	m, _, cancel := testManager(t)
	defer cancel()
	require.NoError(t, m.Resize(PoolHealthCheck, 1))

	blockCh := make(chan struct{})
	defer close(blockCh)
	for i := 0; i < 5; i++ {
		_, err := m.Submit(PoolHealthCheck, func(ctx context.Context) error {
			<-blockCh
			return nil
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		stats, _ := m.Stats(PoolHealthCheck)
		return stats.PendingTasks >= 3
	}, time.Second, 10*time.Millisecond)

	health := m.CheckHealth(context.Background())
	assert.False(t, health.Pools[PoolHealthCheck].Healthy)
}

func TestStopAll_ShutsDownWithinBound(t *testing.T) {
	m, _, cancel := testManager(t)
	defer cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	assert.NoError(t, m.StopAll(stopCtx))
}
