package filter

import (
	"log/slog"
	"time"

	"thumbshift/internal/keyevent"
)

// Filter is the contract a host drives with raw key events.
type Filter interface {
	// Process handles one raw key event and returns the event it resolves
	// to synchronously, if any.
	Process(key keyevent.KeyEvent) (keyevent.KeyEvent, bool)

	// Reset discards pending keys without resolving them.
	Reset()
}

// Engine is the thumb-shift filter. See the package documentation for the
// threading requirements.
type Engine struct {
	cfg     Config
	special map[string]struct{}
	queue   pendingQueue

	// timer is the single outstanding wake-up; arming always replaces it.
	timer Timer

	now     Clock
	sched   Scheduler
	sleep   func(time.Duration)
	forward func(keyevent.KeyEvent)
	log     *slog.Logger
}

var _ Filter = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the microsecond clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.now = c }
}

// WithScheduler sets the scheduler used for the wake-up timer.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// WithSleep sets the function used to block on test-delay events.
func WithSleep(f func(time.Duration)) Option {
	return func(e *Engine) { e.sleep = f }
}

// WithForward sets the sink for keys resolved outside the return path of
// Process: the older key of a split window and everything the timer
// resolves.
func WithForward(f func(keyevent.KeyEvent)) Option {
	return func(e *Engine) { e.forward = f }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an Engine. Non-positive thresholds in cfg take their
// defaults.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		now:     runtimeClock,
		sched:   runtimeScheduler,
		sleep:   time.Sleep,
		forward: func(keyevent.KeyEvent) {},
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.setConfig(cfg)
	return e
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Reconfigure replaces the thresholds and special doubles. Pending keys
// stay pending and are judged against the new values.
func (e *Engine) Reconfigure(cfg Config) {
	e.setConfig(cfg)
	e.log.Info("filter reconfigured", "config", e.cfg.String())
}

func (e *Engine) setConfig(cfg Config) {
	e.cfg = cfg.applyDefaults()
	e.special = make(map[string]struct{}, len(e.cfg.SpecialDoubles))
	for _, name := range e.cfg.SpecialDoubles {
		e.special[name] = struct{}{}
	}
}

// Pending returns the number of buffered presses.
func (e *Engine) Pending() int {
	return e.queue.len()
}

// Process implements Filter.
func (e *Engine) Process(key keyevent.KeyEvent) (keyevent.KeyEvent, bool) {
	if key.Modifiers.Has(keyevent.ModTestDelay) {
		d := key.Delay()
		e.sleep(d)
		e.log.Debug("test delay", "delay", d, "now_us", e.now())
		return keyevent.KeyEvent{}, false
	}

	now := e.now()
	out, ok, wait := e.enqueue(key, now)
	e.arm(e.nextWake(wait, now))
	if ok {
		return out, true
	}

	var fwd []keyevent.KeyEvent
	out, ok = e.classify(now, &fwd)
	e.deliver(fwd...)
	return out, ok
}

// Reset implements Filter. An armed timer is left alone and finds the
// queue empty when it fires.
func (e *Engine) Reset() {
	if e.queue.len() > 0 {
		e.log.Debug("pending keys discarded", "count", e.queue.len())
	}
	e.queue.clear()
}

// arm cancels the outstanding timer and, for a positive wait, replaces it.
func (e *Engine) arm(wait int64) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if wait > 0 {
		e.timer = e.sched.AfterFunc(micros(wait), e.fire)
	}
}

// fire is the timer callback.
func (e *Engine) fire() {
	now := e.now()
	var fwd []keyevent.KeyEvent
	out, ok := e.classify(now, &fwd)
	if ok {
		fwd = append(fwd, out)
	}
	if e.queue.len() > 0 {
		e.arm(e.nextWake(e.cfg.MaxWait, now))
	}
	e.deliver(fwd...)
}

func (e *Engine) deliver(keys ...keyevent.KeyEvent) {
	for _, k := range keys {
		e.forward(k)
	}
}
