// Package routines provides a pool of goroutines executing functions.
package routines

import (
	"sync"
)

// Pool executes queued functions with a fixed number of goroutines.
type Pool struct {
	workCh   chan func()
	wg       sync.WaitGroup
	waitOnce sync.Once
}

// NewPool creates a pool with workers goroutines.
// If workers is <1, 1 worker is started.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}

	p := Pool{
		workCh: make(chan func(), workers),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return &p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for fn := range p.workCh {
		fn()
	}
}

// Queue schedules fn for execution.
// It blocks when all workers are busy and the queue is full.
// Queue panics when it is called after Wait.
func (p *Pool) Queue(fn func()) {
	p.workCh <- fn
}

// Wait waits until all queued functions were executed and terminates the
// workers.
func (p *Pool) Wait() {
	p.waitOnce.Do(func() {
		close(p.workCh)
	})

	p.wg.Wait()
}
