package filter

import "time"

// Clock returns the current time in microseconds. Successive calls must be
// non-decreasing.
type Clock func() int64

// Timer is a handle to an armed one-shot callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// call stopped the timer before it fired.
	Stop() bool
}

// Scheduler arms one-shot callbacks. The callback runs at most once.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(d time.Duration, f func()) Timer

// AfterFunc calls fn(d, f).
func (fn SchedulerFunc) AfterFunc(d time.Duration, f func()) Timer {
	return fn(d, f)
}

// runtimeScheduler arms timers with time.AfterFunc. Callbacks run on their
// own goroutine, so it is only suitable for hosts that serialise access to
// the Engine themselves.
var runtimeScheduler = SchedulerFunc(func(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
})

var clockBase = time.Now()

// runtimeClock reads the monotonic clock as microseconds since process
// start.
func runtimeClock() int64 {
	return time.Since(clockBase).Microseconds()
}

func micros(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}
