package eventloop

import "sync"

// AsyncQueue lets any goroutine post a task for execution on the loop
// goroutine. Push is safe from any goroutine; tasks posted by a single
// goroutine run in submission order, but no ordering is promised across
// goroutines.
//
// This mirrors async_queue.cc's mutex-protected FIFO plus wakeup
// descriptor, with a buffered channel standing in for the eventfd: a
// non-blocking send coalesces concurrent wakeups exactly the way multiple
// eventfd writes collapse into one readable event.
type AsyncQueue struct {
	mu     sync.Mutex
	tasks  []func()
	wakeup chan struct{}
}

// NewAsyncQueue constructs an AsyncQueue ready for use.
func NewAsyncQueue() *AsyncQueue {
	return &AsyncQueue{
		wakeup: make(chan struct{}, 1),
	}
}

// Push enqueues task and wakes the loop. task runs exactly once, later, on
// whatever goroutine is draining this queue (normally the Loop goroutine).
func (q *AsyncQueue) Push(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
		// a wakeup is already pending; it will observe this task too.
	}
}

// Wakeup returns the channel that becomes readable whenever tasks are
// pending. The loop selects on this channel and calls Drain when it fires.
func (q *AsyncQueue) Wakeup() <-chan struct{} {
	return q.wakeup
}

// Drain atomically swaps out the pending task slice and runs each task in
// submission order, outside the lock, so a task that calls Push does not
// deadlock against itself.
func (q *AsyncQueue) Drain() {
	q.mu.Lock()
	pending := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, task := range pending {
		task()
	}
}

// Len reports the number of tasks currently queued. Intended for
// diagnostics/tests only; the count can change immediately after return.
func (q *AsyncQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
