// Package timeutil provides timer helpers shared across the module.
package timeutil

import (
	"sync"
	"time"
)

// Timer wraps a [time.Timer] and keeps track of its duration and start time,
// so callers can inspect the remaining time and reschedule with a new
// duration. The callback is executed in its own goroutine, like
// [time.AfterFunc].
type Timer struct {
	mu        sync.Mutex
	startTime time.Time
	duration  time.Duration
	stopped   bool
	callback  func()
	realTimer *time.Timer
}

// AfterFunc creates a new [Timer] that executes f after the given duration.
// The timer is started immediately.
func AfterFunc(duration time.Duration, f func()) *Timer {
	t := &Timer{
		startTime: time.Now(),
		duration:  duration,
		callback:  f,
	}
	t.realTimer = time.AfterFunc(duration, t.fire)
	return t
}

func (t *Timer) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	f := t.callback
	t.mu.Unlock()

	if f != nil {
		f()
	}
}

// Duration returns the duration the timer was last scheduled with.
func (t *Timer) Duration() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// Left returns the time remaining until the timer expires.
// Returns 0 if the timer is stopped or expired.
func (t *Timer) Left() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return 0
	}
	left := t.duration - time.Since(t.startTime)
	if left < 0 {
		return 0
	}
	return left
}

// Stop stops the timer. It reports whether the timer was still active.
// The callback will not run after Stop returns, unless it is already running.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	if t.realTimer == nil {
		return false
	}
	return t.realTimer.Stop()
}

// Reset reschedules the timer with a new duration, restarting it if needed.
func (t *Timer) Reset(duration time.Duration) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
	t.duration = duration
	t.stopped = false
	if t.realTimer == nil {
		t.realTimer = time.AfterFunc(duration, t.fire)
		return
	}
	t.realTimer.Reset(duration)
}
