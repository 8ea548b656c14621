// Package ibus exposes the thumb-shift filter as a D-Bus key-filter service
// shaped after the IBus engine interface.
//
// Every D-Bus call is marshalled onto a single eventloop.Loop, which also
// runs the filter's timer callbacks, so the filter itself needs no locks.
// Resolved keys leave the service as D-Bus signals.
package ibus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"thumbshift/internal/eventloop"
	"thumbshift/internal/filter"
	"thumbshift/internal/keyevent"
	"thumbshift/internal/metrics"
	"thumbshift/internal/trace"
)

// D-Bus names used by the service.
const (
	DefaultBusName    = "org.thumbshift.Filter"
	DefaultObjectPath = dbus.ObjectPath("/org/thumbshift/Filter")
	Interface         = "org.thumbshift.Filter"

	SignalResolved   = Interface + ".Resolved"
	SignalForwardKey = Interface + ".ForwardKeyEvent"
)

// callTimeout bounds how long a D-Bus call waits for the loop.
const callTimeout = 2 * time.Second

// Emitter sends D-Bus signals. *dbus.Conn satisfies it.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...any) error
}

// Service is the D-Bus object implementing the key filter.
type Service struct {
	loop    *eventloop.Loop
	engine  *filter.Engine
	keymap  *Keymap
	emitter Emitter
	path    dbus.ObjectPath
	now     filter.Clock

	recorder *trace.Recorder
	metrics  *metrics.FilterMetrics
	log      *slog.Logger

	// Owned by the loop.
	enabled  bool
	keycodes map[uint32]uint32
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	path       dbus.ObjectPath
	keymap     *Keymap
	recorder   *trace.Recorder
	metrics    *metrics.FilterMetrics
	log        *slog.Logger
	now        filter.Clock
	engineOpts []filter.Option
}

// WithObjectPath sets the path signals are emitted from.
func WithObjectPath(p dbus.ObjectPath) Option {
	return func(o *serviceOptions) { o.path = p }
}

// WithKeymap sets the thumb key assignment.
func WithKeymap(km *Keymap) Option {
	return func(o *serviceOptions) { o.keymap = km }
}

// WithRecorder records every event into a trace session.
func WithRecorder(r *trace.Recorder) Option {
	return func(o *serviceOptions) { o.recorder = r }
}

// WithMetrics sets the metrics to update.
func WithMetrics(m *metrics.FilterMetrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *serviceOptions) { o.log = l }
}

// WithClock replaces the monotonic clock used for timestamps and by the
// filter.
func WithClock(c filter.Clock) Option {
	return func(o *serviceOptions) { o.now = c }
}

// WithEngineOptions passes extra options to the filter engine. They are
// applied after the service's own, so a test can swap the scheduler.
func WithEngineOptions(opts ...filter.Option) Option {
	return func(o *serviceOptions) { o.engineOpts = append(o.engineOpts, opts...) }
}

// NewService creates an enabled Service running on loop.
func NewService(loop *eventloop.Loop, cfg filter.Config, emitter Emitter, opts ...Option) *Service {
	o := serviceOptions{
		path:   DefaultObjectPath,
		keymap: DefaultKeymap(),
		log:    slog.New(slog.DiscardHandler),
		now:    eventloop.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewFilterMetrics(metrics.NewRegistry("thumbshift"))
	}

	s := &Service{
		loop:     loop,
		keymap:   o.keymap,
		emitter:  emitter,
		path:     o.path,
		now:      o.now,
		recorder: o.recorder,
		metrics:  o.metrics,
		log:      o.log,
		enabled:  true,
		keycodes: make(map[uint32]uint32),
	}

	engineOpts := []filter.Option{
		filter.WithClock(o.now),
		filter.WithScheduler(loop),
		filter.WithForward(s.forward),
		filter.WithLogger(o.log.With("component", "filter")),
	}
	s.engine = filter.New(cfg, append(engineOpts, o.engineOpts...)...)
	s.metrics.Enabled.Set(1)
	return s
}

// do runs fn on the loop and converts failures to D-Bus errors.
func (s *Service) do(fn func()) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := s.loop.Do(ctx, fn); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// ProcessKeyEvent filters one key event. It returns true when the key was
// consumed; its resolution is delivered by signal.
// A call that fails never reaches the filter, so the caller still owns the
// key.
func (s *Service) ProcessKeyEvent(keyval, keycode, state uint32) (bool, *dbus.Error) {
	var handled bool
	if err := s.do(func() { handled = s.processKey(keyval, keycode, state) }); err != nil {
		return false, err
	}
	return handled, nil
}

// FocusIn is called when an input context gains focus.
func (s *Service) FocusIn() *dbus.Error {
	return s.do(func() { s.reset("focus in") })
}

// FocusOut is called when an input context loses focus.
func (s *Service) FocusOut() *dbus.Error {
	return s.do(func() { s.reset("focus out") })
}

// Reset discards pending keys.
func (s *Service) Reset() *dbus.Error {
	return s.do(func() { s.reset("reset") })
}

// Enable turns filtering on.
func (s *Service) Enable() *dbus.Error {
	return s.do(func() { s.setEnabled(true) })
}

// Disable turns filtering off. Every key passes through until Enable.
func (s *Service) Disable() *dbus.Error {
	return s.do(func() { s.setEnabled(false) })
}

// Reconfigure swaps the filter thresholds and, when km is non-nil, the
// keymap.
func (s *Service) Reconfigure(ctx context.Context, cfg filter.Config, km *Keymap) error {
	err := s.loop.Do(ctx, func() {
		s.engine.Reconfigure(cfg)
		if km != nil {
			s.keymap = km
		}
		s.metrics.Reloads.Inc()
	})
	if err != nil {
		return fmt.Errorf("reconfigure: %w", err)
	}
	return nil
}

// Enabled reports whether filtering is on.
func (s *Service) Enabled(ctx context.Context) (bool, error) {
	var on bool
	err := s.loop.Do(ctx, func() { on = s.enabled })
	return on, err
}

func (s *Service) setEnabled(on bool) {
	if s.enabled == on {
		return
	}
	if !on {
		s.reset("disabled")
	}
	s.enabled = on
	if on {
		s.metrics.Enabled.Set(1)
	} else {
		s.metrics.Enabled.Set(0)
	}
	s.log.Info("filter toggled", "enabled", on)
}

func (s *Service) reset(reason string) {
	s.engine.Reset()
	s.record(trace.Reset, s.now(), keyevent.New(reason, keyevent.ModNone))
	s.metrics.Resets.Inc()
	s.metrics.Pending.Set(0)
	s.log.Debug("filter reset", "reason", reason)
}

func (s *Service) processKey(keyval, keycode, state uint32) bool {
	if !s.enabled {
		s.metrics.Passthrough.Inc()
		return false
	}

	key, action := s.keymap.Translate(keyval, state)
	switch action {
	case Bypass:
		s.metrics.Passthrough.Inc()
		return false
	case ResetBypass:
		s.reset("non-filter key")
		s.metrics.Passthrough.Inc()
		return false
	}

	now := s.now()
	s.keycodes[keyval] = keycode
	s.metrics.KeysIn.Inc()
	if !key.IsRelease() {
		s.metrics.ObservePress(now)
	}
	s.record(trace.In, now, key)

	out, ok := s.engine.Process(key)
	s.metrics.Pending.Set(int64(s.engine.Pending()))
	if ok {
		s.record(trace.Out, s.now(), out)
		s.metrics.ObserveResolved(out, false)
		s.emit(out)
	}
	return true
}

// forward is the engine's sink for keys resolved out of band.
func (s *Service) forward(k keyevent.KeyEvent) {
	s.record(trace.Fwd, s.now(), k)
	s.metrics.ObserveResolved(k, true)
	s.metrics.Pending.Set(int64(s.engine.Pending()))
	s.emit(k)
}

func (s *Service) record(dir trace.Direction, now int64, k keyevent.KeyEvent) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(dir, now, k)
	s.metrics.TraceDropped.Set(int64(s.recorder.Dropped()))
}

func (s *Service) emit(k keyevent.KeyEvent) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(s.path, SignalResolved, k.Name, uint32(k.Code), uint32(k.Modifiers)); err != nil {
		s.log.Warn("emit failed", "signal", SignalResolved, "error", err)
	}

	keyval, state, ok := ToIBus(k)
	if !ok {
		return
	}
	if err := s.emitter.Emit(s.path, SignalForwardKey, keyval, s.keycodes[keyval], state); err != nil {
		s.log.Warn("emit failed", "signal", SignalForwardKey, "error", err)
	}
}
