package eventloop

import (
	"sync"
	"time"
)

// TimerChannel is a one-shot, rearmable timer scheduled on a Loop. Enable
// schedules a single fire at now+duration, rearming if already enabled;
// Disable cancels. The callback always runs on the loop goroutine, because
// the underlying time.AfterFunc goroutine does nothing but post it onto
// the loop's AsyncQueue.
type TimerChannel struct {
	loop     *Loop
	callback func()

	mu      sync.Mutex
	timer   *time.Timer
	enabled bool
	gen     uint64 // invalidates callbacks from a superseded timer.
}

// NewTimerChannel creates a disabled timer bound to loop, firing callback
// (on the loop goroutine) when enabled.
func NewTimerChannel(loop *Loop, callback func()) *TimerChannel {
	return &TimerChannel{loop: loop, callback: callback}
}

// Enable arms the timer to fire once after d, rearming if already enabled.
func (t *TimerChannel) Enable(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.enabled = true
	t.timer = time.AfterFunc(d, func() { t.fire(gen) })
}

// Disable cancels the timer. It is a no-op if not enabled.
func (t *TimerChannel) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	t.enabled = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Enabled reports whether the timer currently has a pending fire.
func (t *TimerChannel) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *TimerChannel) fire(gen uint64) {
	t.mu.Lock()
	current := t.gen == gen && t.enabled
	if current {
		t.enabled = false
	}
	t.mu.Unlock()

	if !current {
		return
	}
	t.loop.Post(t.callback)
}
