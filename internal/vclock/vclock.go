// Package vclock provides a virtual microsecond clock with a manually
// driven one-shot scheduler. Time only moves when the owner says so, which
// makes timing-dependent code deterministic in tests and replays.
//
// Clock is not safe for concurrent use.
package vclock

import (
	"container/heap"
	"time"
)

// Clock is a virtual clock and scheduler.
type Clock struct {
	now    int64
	seq    uint64
	timers timerHeap
}

// New creates a clock reading start microseconds.
func New(start int64) *Clock {
	return &Clock{now: start}
}

// Now returns the current virtual time in microseconds.
func (c *Clock) Now() int64 {
	return c.now
}

// Sleep moves time forward by d without running any timers. Timers that
// became due run on the next Advance, AdvanceTo or RunDue.
func (c *Clock) Sleep(d time.Duration) {
	c.now += d.Microseconds()
}

// Advance moves time forward by d, running every timer that falls due on
// the way. Each callback observes Now equal to its own deadline.
func (c *Clock) Advance(d time.Duration) int {
	return c.AdvanceTo(c.now + d.Microseconds())
}

// AdvanceTo moves time forward to t, running due timers in deadline order.
// It never moves time backwards. It returns the number of callbacks run.
func (c *Clock) AdvanceTo(t int64) int {
	fired := 0
	for len(c.timers) > 0 && c.timers[0].when <= t {
		tm := heap.Pop(&c.timers).(*Timer)
		if tm.when > c.now {
			c.now = tm.when
		}
		tm.fired = true
		tm.f()
		fired++
	}
	if t > c.now {
		c.now = t
	}
	return fired
}

// RunDue runs the timers whose deadline has already passed.
func (c *Clock) RunDue() int {
	return c.AdvanceTo(c.now)
}

// Pending returns the number of armed timers.
func (c *Clock) Pending() int {
	return len(c.timers)
}

// Next returns the deadline of the earliest armed timer.
func (c *Clock) Next() (int64, bool) {
	if len(c.timers) == 0 {
		return 0, false
	}
	return c.timers[0].when, true
}

// AfterFunc arms f to run once d has elapsed on the virtual clock.
func (c *Clock) AfterFunc(d time.Duration, f func()) *Timer {
	c.seq++
	t := &Timer{c: c, when: c.now + d.Microseconds(), seq: c.seq, f: f}
	heap.Push(&c.timers, t)
	return t
}

// Timer is a timer armed on a Clock.
type Timer struct {
	c     *Clock
	when  int64
	seq   uint64
	f     func()
	index int
	fired bool
}

// When returns the deadline in microseconds.
func (t *Timer) When() int64 {
	return t.when
}

// Stop disarms the timer. It reports whether the timer was still armed.
func (t *Timer) Stop() bool {
	if t.fired || t.index < 0 {
		return false
	}
	heap.Remove(&t.c.timers, t.index)
	return true
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when < h[j].when
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
