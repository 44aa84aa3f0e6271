package httpclient

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWorkerPool_10kJobs pushes 10k jobs through an 8-worker pool with a
// small buffer. Run with -race to catch unsynchronised access.
func TestWorkerPool_10kJobs(t *testing.T) {
	const total = 10_000
	p := newWorkerPool(8, 16)

	var done atomic.Int64
	for i := 0; i < total; i++ {
		require.NoError(t, p.submit(func() { done.Add(1) }))
	}
	p.stop()
	assert.Equal(t, int64(total), done.Load())
}

func TestWorkerPool_StopDrainsQueue(t *testing.T) {
	p := newWorkerPool(1, 100)
	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, p.submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	p.stop()
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v, "single worker runs jobs in queue order")
	}
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	p := newWorkerPool(2, 1)
	p.stop()
	p.stop() // idempotent
	assert.ErrorIs(t, p.submit(func() {}), errPoolClosed)
}

func TestWorkerPool_RunsConcurrently(t *testing.T) {
	const workers = 4
	p := newWorkerPool(workers, workers)

	var peak atomic.Int64
	var wg sync.WaitGroup
	release := make(chan struct{})
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		require.NoError(t, p.submit(func() {
			defer wg.Done()
			n := p.active.Load()
			for {
				cur := peak.Load()
				if n <= cur || peak.CompareAndSwap(cur, n) {
					break
				}
			}
			<-release
		}))
	}
	require.Eventually(t, func() bool { return p.active.Load() == workers }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	p.stop()
	assert.LessOrEqual(t, peak.Load(), int64(workers))
}
