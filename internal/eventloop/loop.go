package eventloop

import "context"

// Loop is the single goroutine that owns all supervisor state. Every
// mutation of the process table or the control-client state machine
// happens inside a func() run by this loop; anything arriving from
// another goroutine reaches the loop only through Post.
type Loop struct {
	queue *AsyncQueue
	done  chan struct{}
}

// NewLoop constructs a Loop. Call Run to start draining it.
func NewLoop() *Loop {
	return &Loop{
		queue: NewAsyncQueue(),
		done:  make(chan struct{}),
	}
}

// Post schedules task for execution on the loop goroutine. Safe from any
// goroutine, including the loop goroutine itself.
func (l *Loop) Post(task func()) {
	l.queue.Push(task)
}

// Call posts fn onto the loop and blocks the calling goroutine until it has
// run, returning fn's result. Used by collaborators outside the loop (HTTP
// handlers) that need a consistent read of loop-owned state without a
// second lock.
func (l *Loop) Call(fn func() any) any {
	result := make(chan any, 1)
	l.Post(func() {
		result <- fn()
	})
	return <-result
}

// Run drains the queue until ctx is cancelled or Stop is called. It is
// meant to be the body of the process's main goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.queue.Drain() // run anything already queued before exiting.
			return
		case <-l.done:
			l.queue.Drain()
			return
		case <-l.queue.Wakeup():
			l.queue.Drain()
		}
	}
}

// Stop asks Run to return after draining any tasks queued so far. Safe to
// call multiple times.
func (l *Loop) Stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}
