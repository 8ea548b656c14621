// Package eventloop runs callbacks one at a time on a single goroutine.
//
// The filter engine holds no locks; every call into it, including its timer
// callbacks, must happen on one goroutine. A Loop provides that goroutine:
// D-Bus method handlers post work with Do, and timers armed through
// AfterFunc deliver their callbacks back onto the loop.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"thumbshift/internal/filter"
)

// ErrClosed is returned when work is posted to a closed loop.
var ErrClosed = errors.New("eventloop: closed")

// DefaultQueueSize is the task buffer used when New is given zero.
const DefaultQueueSize = 64

// Loop serialises callbacks onto the goroutine running Run.
type Loop struct {
	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool
	log       *slog.Logger

	executed atomic.Uint64
	panics   atomic.Uint64
}

// New creates a loop with room for size queued tasks.
func New(log *slog.Logger, size int) *Loop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Loop{
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run executes posted tasks until ctx is cancelled or Close is called.
// It must be called at most once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("eventloop: already running")
	}
	l.log.Debug("event loop started")
	defer l.log.Debug("event loop stopped", "executed", l.executed.Load())

	for {
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.tasks:
			l.safeExecute(fn)
		}
	}
}

// Submit queues fn without waiting for it to run.
func (l *Loop) Submit(fn func()) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Do runs fn on the loop and waits for it to finish. When ctx ends or the
// loop closes before fn has started, fn is skipped for good and the error is
// returned. Once fn has started Do waits for it and returns nil, so the
// caller always knows whether fn ran.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	var claimed atomic.Bool
	finished := make(chan struct{})
	task := func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		defer close(finished)
		fn()
	}

	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}

	var err error
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-l.done:
		err = ErrClosed
	}
	if claimed.CompareAndSwap(false, true) {
		return err
	}
	<-finished
	return nil
}

// Close stops the loop. Queued tasks that have not started are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Done is closed once the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stats returns the number of tasks run and the number that panicked.
func (l *Loop) Stats() (executed, panicked uint64) {
	return l.executed.Load(), l.panics.Load()
}

func (l *Loop) safeExecute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.log.Error("task panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	l.executed.Add(1)
	fn()
}

const (
	timerArmed int32 = iota
	timerStopped
	timerFired
)

// Timer is a one-shot callback delivered on a Loop.
type Timer struct {
	state atomic.Int32
	rt    *time.Timer
}

// Stop prevents the callback from running. Called on the loop goroutine,
// a true result guarantees the callback never runs.
func (t *Timer) Stop() bool {
	if !t.state.CompareAndSwap(timerArmed, timerStopped) {
		return false
	}
	t.rt.Stop()
	return true
}

// AfterFunc arms f to run on the loop once d has elapsed. If the loop is
// closed by then, f is dropped.
func (l *Loop) AfterFunc(d time.Duration, f func()) filter.Timer {
	t := &Timer{}
	t.rt = time.AfterFunc(d, func() {
		err := l.Submit(func() {
			if t.state.CompareAndSwap(timerArmed, timerFired) {
				f()
			}
		})
		if err != nil {
			l.log.Debug("timer dropped", "error", err)
		}
	})
	return t
}

var _ filter.Scheduler = (*Loop)(nil)
