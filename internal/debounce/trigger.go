// Package debounce coalesces bursts of per-key signals into single
// trailing callbacks.
package debounce

import (
	"sync"
	"time"
)

// Trigger fires a callback once per key after a quiet period. Every
// Signal for a key resets that key's timer, so a burst of signals
// produces exactly one callback, delay after the last signal.
type Trigger struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool

	delay time.Duration
	fire  func(key string)
}

func NewTrigger(delay time.Duration, fire func(key string)) *Trigger {
	return &Trigger{
		timers: make(map[string]*time.Timer),
		delay:  delay,
		fire:   fire,
	}
}

// Signal records activity for key. With a non-positive delay the
// callback runs inline.
func (t *Trigger) Signal(key string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.delay <= 0 {
		t.mu.Unlock()
		t.fire(key)
		return
	}

	if pending, ok := t.timers[key]; ok {
		pending.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.delay, func() {
		t.expire(key, timer)
	})
	t.timers[key] = timer
	t.mu.Unlock()
}

// expire fires the callback when the elapsed timer is still the
// current one for its key. A timer superseded by a later Signal may
// still reach here; the identity check drops it.
func (t *Trigger) expire(key string, timer *time.Timer) {
	t.mu.Lock()
	if t.stopped || t.timers[key] != timer {
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	t.mu.Unlock()
	t.fire(key)
}

// Flush fires key now if a signal is pending for it.
func (t *Trigger) Flush(key string) {
	t.mu.Lock()
	timer, ok := t.timers[key]
	if !ok || t.stopped {
		t.mu.Unlock()
		return
	}
	timer.Stop()
	delete(t.timers, key)
	t.mu.Unlock()
	t.fire(key)
}

// Stop cancels every pending timer and ignores further signals.
func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}

// Pending returns the number of keys with a timer armed.
func (t *Trigger) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
