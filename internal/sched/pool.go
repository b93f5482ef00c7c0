// Package sched provides the two execution contexts settlement hops between:
// a background worker pool for datastore I/O and per-actor serial executors
// that are the only safe place to touch an actor's funds and inventory. It
// also carries the advisory per-item lock table.
package sched

import (
	"sync"
)

// Pool is a fixed-size background worker pool. Tasks run in submission order
// per worker but with no ordering guarantee across workers.
type Pool struct {
	mu     sync.Mutex
	tasks  chan func()
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines draining a queue of queueSize tasks.
func NewPool(workers, queueSize int) *Pool {
	p := &Pool{tasks: make(chan func(), queueSize)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

func (p *Pool) drain() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit enqueues a task. Blocks when the queue is full. Returns false after
// Close; callers must settle their pending request when rejected. The enqueue
// happens under the mutex so Close cannot race it.
func (p *Pool) Submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.tasks <- task
	return true
}

// Close stops accepting tasks and waits for in-flight work to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
