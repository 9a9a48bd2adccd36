// Package workqueue provides a blocking queue of callbacks, shared between a set of worker
// goroutines.
package workqueue

import (
	"sync"
)

// Queue holds callbacks until a worker pops and calls them.
//
// A Queue may start inactive, in which case workers block in PopAndCall until Activate is called,
// even if there are callbacks available.
type Queue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	active     bool
	terminated bool
	running    int
	queue      []func()
}

// New returns a new Queue, which only hands out callbacks once active.
func New(active bool) *Queue {
	q := &Queue{active: active}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds f to the end of the queue. It returns false if the queue has been terminated, in which
// case f will never be called.
func (q *Queue) Push(f func()) bool {
	if f == nil {
		panic("workqueue: Push called with nil function")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.terminated {
		return false
	}
	q.queue = append(q.queue, f)
	q.cond.Broadcast()
	return true
}

// PopAndCall waits for a callback and calls it on the current goroutine.
//
// It returns false without calling anything once the queue is terminated.
func (q *Queue) PopAndCall() bool {
	q.mu.Lock()
	for !q.terminated && (!q.active || len(q.queue) == 0) {
		q.cond.Wait()
	}
	if q.terminated {
		q.mu.Unlock()
		return false
	}

	f := q.queue[0]
	q.queue[0] = nil
	q.queue = q.queue[1:]
	q.running += 1
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.running -= 1
		q.cond.Broadcast()
	}()

	f()
	return true
}

// Activate allows workers to start calling queued callbacks.
func (q *Queue) Activate() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.active = true
	q.cond.Broadcast()
}

// WaitUntilEmpty blocks until the queue has no callbacks left, and none are still running, or until
// the queue is terminated.
func (q *Queue) WaitUntilEmpty() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.terminated && (len(q.queue) != 0 || q.running != 0) {
		q.cond.Wait()
	}
}

// Terminate stops the queue. Callbacks that haven't been popped are dropped, and all blocked
// PopAndCall calls return false.
func (q *Queue) Terminate() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.terminated = true
	q.queue = nil
	q.cond.Broadcast()
}

// Len returns the number of callbacks waiting to be called.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.queue)
}
