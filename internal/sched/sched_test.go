package sched

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := NewPool(4, 16)

	var count atomic.Int32
	for i := 0; i < 100; i++ {
		p.Submit(func() { count.Add(1) })
	}
	p.Close()

	if got := count.Load(); got != 100 {
		t.Errorf("ran %d tasks, want 100", got)
	}
}

func TestPoolSubmitAfterClose(t *testing.T) {
	p := NewPool(2, 8)
	p.Close()

	if p.Submit(func() {}) {
		t.Error("Submit after Close returned true")
	}
	// A second Close is a no-op, not a double close.
	p.Close()
}

func TestActorsSerialPerActor(t *testing.T) {
	a := NewActors(64)
	actor := uuid.New()

	// Serial execution means no interleaving: a plain counter must not race.
	counter := 0
	for i := 0; i < 500; i++ {
		if !a.Submit(actor, func() { counter++ }) {
			t.Fatal("Submit returned false before Close")
		}
	}
	a.Close()

	if counter != 500 {
		t.Errorf("counter = %d, want 500", counter)
	}
}

func TestActorsOrderPreserved(t *testing.T) {
	a := NewActors(64)
	actor := uuid.New()

	var order []int
	for i := 0; i < 50; i++ {
		n := i
		a.Submit(actor, func() { order = append(order, n) })
	}
	a.Close()

	for i, n := range order {
		if n != i {
			t.Fatalf("task %d ran at position %d", n, i)
		}
	}
}

func TestActorsIndependentActors(t *testing.T) {
	a := NewActors(8)

	var wg sync.WaitGroup
	wg.Add(1)
	release := make(chan struct{})
	blocked := uuid.New()
	a.Submit(blocked, func() {
		defer wg.Done()
		<-release
	})

	// A second actor must still make progress while the first is blocked.
	done := make(chan struct{})
	a.Submit(uuid.New(), func() { close(done) })
	<-done

	close(release)
	wg.Wait()
	a.Close()
}

func TestActorsSubmitAfterClose(t *testing.T) {
	a := NewActors(8)
	a.Close()
	if a.Submit(uuid.New(), func() {}) {
		t.Error("Submit after Close returned true")
	}
}

func TestKeyedLocksMutualExclusion(t *testing.T) {
	locks := NewKeyedLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("diamond")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if len(locks.locks) != 0 {
		t.Errorf("lock table holds %d stale entries", len(locks.locks))
	}
}

func TestKeyedLocksIndependentKeys(t *testing.T) {
	locks := NewKeyedLocks()

	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b") // must not block on key "a"
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
