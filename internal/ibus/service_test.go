package ibus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbshift/internal/eventloop"
	"thumbshift/internal/filter"
	"thumbshift/internal/keyevent"
	"thumbshift/internal/metrics"
	"thumbshift/internal/trace"
	"thumbshift/internal/vclock"
)

type signal struct {
	name string
	args []any
}

type fakeEmitter struct {
	mu      sync.Mutex
	signals []signal
}

func (f *fakeEmitter) Emit(path dbus.ObjectPath, name string, values ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signal{name: name, args: values})
	return nil
}

func (f *fakeEmitter) take() []signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.signals
	f.signals = nil
	return out
}

type fixture struct {
	t       *testing.T
	loop    *eventloop.Loop
	clock   *vclock.Clock
	emitter *fakeEmitter
	metrics *metrics.FilterMetrics
	svc     *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		t:       t,
		loop:    eventloop.New(nil, 0),
		clock:   vclock.New(1_000_000),
		emitter: &fakeEmitter{},
		metrics: metrics.NewFilterMetrics(metrics.NewRegistry("thumbshift")),
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})

	opts = append([]Option{
		WithClock(f.clock.Now),
		WithMetrics(f.metrics),
		WithEngineOptions(
			filter.WithScheduler(filter.SchedulerFunc(func(d time.Duration, fn func()) filter.Timer {
				return f.clock.AfterFunc(d, fn)
			})),
			filter.WithSleep(f.clock.Sleep),
		),
	}, opts...)
	f.svc = NewService(f.loop, filter.DefaultConfig(), f.emitter, opts...)
	return f
}

// advance moves virtual time on the loop so timer callbacks run where the
// filter expects them.
func (f *fixture) advance(d time.Duration) {
	f.t.Helper()
	require.NoError(f.t, f.loop.Do(context.Background(), func() { f.clock.Advance(d) }))
}

func (f *fixture) press(keyval, keycode, state uint32) bool {
	f.t.Helper()
	handled, err := f.svc.ProcessKeyEvent(keyval, keycode, state)
	require.Nil(f.t, err)
	return handled
}

func TestServiceSingleKeyResolvesOnTimeout(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.press('a', 38, 0))
	assert.Empty(t, f.emitter.take())

	f.advance(200 * time.Millisecond)
	assert.Equal(t, []signal{
		{SignalResolved, []any{"a", uint32('a'), uint32(0)}},
		{SignalForwardKey, []any{uint32('a'), uint32(38), uint32(0)}},
	}, f.emitter.take())

	assert.Equal(t, uint64(1), f.metrics.KeysIn.Value())
	assert.Equal(t, uint64(1), f.metrics.ResolvedFwd.Value())
	assert.Equal(t, int64(0), f.metrics.Pending.Value())
}

func TestServiceThumbChord(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.press(KeyMuhenkan, 102, 0))
	f.advance(20 * time.Millisecond)
	assert.True(t, f.press('a', 38, 0))
	assert.Equal(t, int64(2), f.metrics.Pending.Value())

	f.advance(time.Second)
	assert.Equal(t, []signal{
		{SignalResolved, []any{"a", uint32('a'), uint32(keyevent.ModLShift)}},
	}, f.emitter.take(), "a thumb-shifted character has no keysym to forward")
	assert.Equal(t, uint64(1), f.metrics.ShiftedKeys.Value())
}

func TestServiceReleaseResolvesSynchronously(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.press('a', 38, 0))
	f.advance(30 * time.Millisecond)
	assert.True(t, f.press('a', 38, ReleaseMask))

	assert.Equal(t, []signal{
		{SignalResolved, []any{"a", uint32('a'), uint32(0)}},
		{SignalForwardKey, []any{uint32('a'), uint32(38), uint32(0)}},
	}, f.emitter.take())
	assert.Equal(t, uint64(1), f.metrics.ResolvedSync.Value())
}

func TestServiceBypass(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.press('c', 54, ControlMask))
	assert.Equal(t, uint64(1), f.metrics.Passthrough.Value())
	assert.Equal(t, uint64(0), f.metrics.KeysIn.Value())

	assert.True(t, f.press('a', 38, 0))
	assert.False(t, f.press(0xff0d, 36, 0), "return is not filtered")
	assert.Equal(t, int64(0), f.metrics.Pending.Value(), "pending keys are discarded")

	f.advance(time.Second)
	assert.Empty(t, f.emitter.take())
}

func TestServiceDisable(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.press('a', 38, 0))
	require.Nil(t, f.svc.Disable())
	on, err := f.svc.Enabled(context.Background())
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, int64(0), f.metrics.Enabled.Value())

	assert.False(t, f.press('b', 56, 0))
	f.advance(time.Second)
	assert.Empty(t, f.emitter.take(), "disabling discards pending keys")

	require.Nil(t, f.svc.Enable())
	assert.True(t, f.press('b', 56, 0))
}

func TestServiceFocusOutResets(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.press('a', 38, 0))
	require.Nil(t, f.svc.FocusOut())
	f.advance(time.Second)
	assert.Empty(t, f.emitter.take())
	assert.Equal(t, uint64(1), f.metrics.Resets.Value())
}

func TestServiceReconfigure(t *testing.T) {
	f := newFixture(t)

	cfg := filter.DefaultConfig()
	cfg.Timeout = 300_000
	cfg.Overlap = 100_000
	km, err := NewKeymap([]string{"Alt_L"}, []string{"Alt_R"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Reconfigure(context.Background(), cfg, km))
	assert.Equal(t, uint64(1), f.metrics.Reloads.Value())

	assert.True(t, f.press('a', 38, 0))
	f.advance(200 * time.Millisecond)
	assert.Empty(t, f.emitter.take(), "the new timeout applies")
	f.advance(200 * time.Millisecond)
	assert.Len(t, f.emitter.take(), 2)

	assert.False(t, f.press(KeyMuhenkan, 102, 0), "no longer a thumb key")
}

func TestServiceRecordsTrace(t *testing.T) {
	store, err := trace.Open(t.TempDir() + "/trace.db")
	require.NoError(t, err)
	defer store.Close()

	id, err := store.StartSession("service", 0, filter.DefaultConfig())
	require.NoError(t, err)
	rec := trace.NewRecorder(store, id, nil)

	f := newFixture(t, WithRecorder(rec))
	f.press('a', 38, 0)
	f.advance(30 * time.Millisecond)
	f.press('a', 38, ReleaseMask)
	f.press('b', 56, 0)
	f.advance(time.Second)
	require.NoError(t, f.loop.Do(context.Background(), func() {}))
	rec.Close()

	events, err := store.Events(id, "")
	require.NoError(t, err)

	var got []string
	for _, e := range events {
		got = append(got, string(e.Direction)+" "+e.Key.String())
	}
	assert.Equal(t, []string{
		"in a",
		"in (release a)",
		"out a",
		"in b",
		"fwd b",
	}, got)
}

func TestServiceRecordsResets(t *testing.T) {
	store, err := trace.Open(t.TempDir() + "/trace.db")
	require.NoError(t, err)
	defer store.Close()

	id, err := store.StartSession("service", 0, filter.DefaultConfig())
	require.NoError(t, err)
	rec := trace.NewRecorder(store, id, nil)

	f := newFixture(t, WithRecorder(rec))
	f.press('a', 38, 0)
	f.advance(20 * time.Millisecond)
	assert.False(t, f.press(0xff0d, 36, 0), "return passes through")
	f.advance(time.Second)
	require.Nil(t, f.svc.FocusOut())
	require.NoError(t, f.loop.Do(context.Background(), func() {}))
	rec.Close()

	events, err := store.Events(id, "")
	require.NoError(t, err)

	var got []string
	for _, e := range events {
		got = append(got, string(e.Direction)+" "+e.Key.Name)
	}
	assert.Equal(t, []string{
		"in a",
		"reset non-filter key",
		"reset focus out",
	}, got)
	assert.Empty(t, f.emitter.take(), "the reset key is never resolved")
}
