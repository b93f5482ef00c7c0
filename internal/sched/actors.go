package sched

import (
	"sync"

	"github.com/google/uuid"
)

// Actors runs tasks serially per actor id. Two tasks for the same actor never
// overlap; tasks for different actors run concurrently. This is the owner
// context: funds and inventory of an actor may only be touched from its queue.
type Actors struct {
	mu        sync.Mutex
	queues    map[uuid.UUID]chan func()
	queueSize int
	closed    bool
	wg        sync.WaitGroup
}

// NewActors creates an owner-context executor with per-actor queues of the
// given size.
func NewActors(queueSize int) *Actors {
	return &Actors{
		queues:    make(map[uuid.UUID]chan func()),
		queueSize: queueSize,
	}
}

// Submit schedules a task onto the actor's serial queue, starting the queue
// on first use. Returns false after Close. The enqueue happens under the
// table lock so Close cannot race it.
func (a *Actors) Submit(actor uuid.UUID, task func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}

	q, ok := a.queues[actor]
	if !ok {
		q = make(chan func(), a.queueSize)
		a.queues[actor] = q
		a.wg.Add(1)
		go a.drain(q)
	}
	q <- task
	return true
}

func (a *Actors) drain(q chan func()) {
	defer a.wg.Done()
	for task := range q {
		task()
	}
}

// Close stops accepting tasks and waits for every actor queue to empty.
func (a *Actors) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	for _, q := range a.queues {
		close(q)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
