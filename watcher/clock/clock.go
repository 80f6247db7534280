package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	// NewTimer returns a Timer that fires once, d after the clock's now.
	NewTimer(d time.Duration) Timer
}

// Timer is the part of time.Timer a Clock can fake.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

func NewReal() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) NewTimer(d time.Duration) Timer {
	return realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) C() <-chan time.Time {
	return r.t.C
}

func (r realTimer) Stop() bool {
	return r.t.Stop()
}

// FakeClock is a manually driven Clock for tests. It is safe for concurrent use.
// Its timers fire only from Advance.
type FakeClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
	timers      []*fakeTimer
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.CurrentTime
}

func (fc *FakeClock) NewTimer(d time.Duration) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	t := &fakeTimer{
		clock:    fc,
		c:        make(chan time.Time, 1),
		deadline: fc.CurrentTime.Add(d),
	}
	if d <= 0 {
		t.c <- fc.CurrentTime
		return t
	}
	fc.timers = append(fc.timers, t)
	return t
}

// Advance moves the fake time forward by d and fires the timers that are due.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.CurrentTime = fc.CurrentTime.Add(d)

	pending := fc.timers[:0]
	for _, t := range fc.timers {
		if t.deadline.After(fc.CurrentTime) {
			pending = append(pending, t)
			continue
		}
		t.c <- fc.CurrentTime
	}
	fc.timers = pending
}

// PendingTimers is the number of timers that have neither fired nor been stopped.
func (fc *FakeClock) PendingTimers() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.timers)
}

type fakeTimer struct {
	clock    *FakeClock
	c        chan time.Time
	deadline time.Time
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.c
}

func (t *fakeTimer) Stop() bool {
	fc := t.clock
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for i, p := range fc.timers {
		if p == t {
			fc.timers = append(fc.timers[:i], fc.timers[i+1:]...)
			return true
		}
	}
	return false
}

// NowMs returns the clock's current time in Unix milliseconds.
func NowMs(c Clock) int64 {
	return c.Now().UnixNano() / int64(time.Millisecond)
}
