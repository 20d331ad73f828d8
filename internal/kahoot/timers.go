package kahoot

import (
	"sync"
	"time"
)

type timerKind int

const (
	timerLeadIn timerKind = iota
	timerWarning
)

// Timers owns the question timers this instance scheduled. Each PIN holds at
// most one timer per kind; scheduling replaces and stops the previous one.
type Timers struct {
	mu      sync.Mutex
	pending map[string]map[timerKind]*time.Timer
	stopped bool
}

// NewTimers creates an empty timer set.
func NewTimers() *Timers {
	return &Timers{pending: make(map[string]map[timerKind]*time.Timer)}
}

// Schedule runs fn after d unless it is cancelled first.
func (t *Timers) Schedule(pin string, kind timerKind, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	byKind, ok := t.pending[pin]
	if !ok {
		byKind = make(map[timerKind]*time.Timer)
		t.pending[pin] = byKind
	}
	if old, ok := byKind[kind]; ok {
		old.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		if !t.claim(pin, kind, &timer) {
			return
		}
		fn()
	})
	byKind[kind] = timer
}

// claim removes the timer from the set if it is still the scheduled one. The
// timer is read under the lock because Schedule assigns it after AfterFunc.
func (t *Timers) claim(pin string, kind timerKind, timer **time.Timer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	byKind, ok := t.pending[pin]
	if !ok || byKind[kind] != *timer {
		return false
	}
	delete(byKind, kind)
	if len(byKind) == 0 {
		delete(t.pending, pin)
	}
	return true
}

// Cancel stops the timer of one kind.
func (t *Timers) Cancel(pin string, kind timerKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byKind, ok := t.pending[pin]
	if !ok {
		return
	}
	if timer, ok := byKind[kind]; ok {
		timer.Stop()
		delete(byKind, kind)
	}
	if len(byKind) == 0 {
		delete(t.pending, pin)
	}
}

// CancelAll stops every timer of pin.
func (t *Timers) CancelAll(pin string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, timer := range t.pending[pin] {
		timer.Stop()
	}
	delete(t.pending, pin)
}

// Pending counts the timers scheduled for pin.
func (t *Timers) Pending(pin string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[pin])
}

// Stop cancels everything and rejects further scheduling.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for pin, byKind := range t.pending {
		for _, timer := range byKind {
			timer.Stop()
		}
		delete(t.pending, pin)
	}
}
