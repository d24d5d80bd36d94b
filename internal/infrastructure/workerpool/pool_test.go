package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(queueSize int) *Pool {
	return New(config.WorkerPoolConfig{
		Critical:   1,
		Urgent:     2,
		Normal:     1,
		Background: 1,
		QueueSize:  queueSize,
	}, logger.NewNop())
}

func TestSubmitRunsTasks(t *testing.T) {
	p := newTestPool(16)
	p.Start()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for _, prio := range priorities {
		wg.Add(1)
		require.NoError(t, p.Submit(prio, func(ctx context.Context) {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, int32(4), ran.Load())
	for _, prio := range priorities {
		stats := p.GetStatistics()[prio.String()]
		assert.Equal(t, int64(1), stats.Submitted, prio.String())
		assert.Equal(t, int64(1), stats.Completed, prio.String())
	}
}

func TestSubmitNeverBlocks(t *testing.T) {
	p := newTestPool(2)
	p.Start()

	release := make(chan struct{})
	blocker := func(ctx context.Context) { <-release }

	// One worker busy plus two queued fills the background class
	require.NoError(t, p.Submit(PriorityBackground, blocker))
	require.Eventually(t, func() bool {
		return p.GetStatistics()["background"].Queued == 0
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Submit(PriorityBackground, blocker))
	require.NoError(t, p.Submit(PriorityBackground, blocker))

	start := time.Now()
	err := p.Submit(PriorityBackground, blocker)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(1), p.GetStatistics()["background"].Rejected)

	// A saturated background class does not hold up urgent work
	done := make(chan struct{})
	require.NoError(t, p.Submit(PriorityUrgent, func(ctx context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("urgent task queued behind background work")
	}

	close(release)
	require.NoError(t, p.Stop(context.Background()))
}

func TestTaskPanicIsRecovered(t *testing.T) {
	p := newTestPool(4)
	p.Start()

	done := make(chan struct{})
	require.NoError(t, p.Submit(PriorityNormal, func(ctx context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(PriorityNormal, func(ctx context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int64(1), p.GetStatistics()["normal"].Panics)
}

func TestStopDrainsQueue(t *testing.T) {
	p := newTestPool(32)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(PriorityNormal, func(ctx context.Context) {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		}))
	}

	// Never started; Stop still runs what was queued
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(10), ran.Load())

	assert.ErrorIs(t, p.Submit(PriorityNormal, func(ctx context.Context) {}), ErrPoolClosed)
	assert.NoError(t, p.Stop(context.Background()), "second stop is a no-op")
}

func TestStopTimeoutCancelsTasks(t *testing.T) {
	p := newTestPool(4)
	p.Start()

	cancelled := make(chan struct{})
	require.NoError(t, p.Submit(PriorityCritical, func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}

func TestSubmitUnknownPriority(t *testing.T) {
	p := newTestPool(4)
	err := p.Submit(Priority(9), func(ctx context.Context) {})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrQueueFull)
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "urgent", PriorityUrgent.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "background", PriorityBackground.String())
}
