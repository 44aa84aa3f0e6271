package httpclient

import (
	"errors"
	"sync"
	"sync/atomic"
)

var errPoolClosed = errors.New("httpclient: worker pool closed")

type job func()

// workerPool runs completion work for finished calls: metrics, logging and
// resolving futures. Network calls never run on it.
type workerPool struct {
	jobCh  chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	active atomic.Int64
}

// newWorkerPool starts count workers reading from a channel of capacity buf.
func newWorkerPool(count, buf int) *workerPool {
	if count < 1 {
		count = 1
	}
	if buf < 0 {
		buf = 0
	}
	p := &workerPool{jobCh: make(chan job, buf)}
	for i := 0; i < count; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p
}

// submit enqueues j, blocking while the buffer is full. It fails once stop
// has been called.
func (p *workerPool) submit(j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPoolClosed
	}
	p.jobCh <- j
	return nil
}

// stop rejects new jobs, then waits for workers to drain the queue.
func (p *workerPool) stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobCh)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *workerPool) runWorker() {
	defer p.wg.Done()
	for j := range p.jobCh {
		p.active.Add(1)
		j()
		p.active.Add(-1)
	}
}
