// Package dispatch provides a serial execution context: closures posted
// to a Queue run one at a time, in order, on a single goroutine.
package dispatch

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Sync after Close.
var ErrClosed = errors.New("dispatch: queue closed")

// Queue runs posted functions in FIFO order on its own goroutine. Post
// never blocks, so callbacks from any goroutine can hand work over safely.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

// NewQueue starts the queue goroutine.
func NewQueue() *Queue {
	q := &Queue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// Post schedules fn. It reports false if the queue is closed.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, fn)
	q.cond.Signal()
	return true
}

// Sync runs fn on the queue and waits for it. It must not be called from
// a function already running on the queue.
func (q *Queue) Sync(fn func()) error {
	ran := make(chan struct{})
	if !q.Post(func() {
		defer close(ran)
		fn()
	}) {
		return ErrClosed
	}
	<-ran
	return nil
}

// Close stops accepting work, runs what is already queued and waits for
// the goroutine to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}
