package eventloop

import (
	"context"
	"testing"
	"time"
)

func TestTimerChannelFiresOnLoopGoroutine(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	fired := make(chan struct{})
	var timer *TimerChannel
	timer = NewTimerChannel(loop, func() {
		if timer.Enabled() {
			t.Errorf("timer must be disabled once its callback runs")
		}
		close(fired)
	})
	timer.Enable(10 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerChannelRearm(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	fires := make(chan struct{}, 1)
	timer := NewTimerChannel(loop, func() {
		select {
		case fires <- struct{}{}:
		default:
		}
	})

	timer.Enable(time.Hour)
	timer.Enable(5 * time.Millisecond) // rearm to a much shorter deadline.

	select {
	case <-fires:
	case <-time.After(2 * time.Second):
		t.Fatal("rearmed timer never fired")
	}
}

func TestTimerChannelDisablePreventsFire(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	fired := make(chan struct{})
	timer := NewTimerChannel(loop, func() { close(fired) })
	timer.Enable(20 * time.Millisecond)
	timer.Disable()

	if timer.Enabled() {
		t.Fatal("timer should report disabled immediately")
	}

	select {
	case <-fired:
		t.Fatal("disabled timer must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}
