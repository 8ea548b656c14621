package eventloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return l
}

func TestDoRunsInOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Submit(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestPanicIsRecovered(t *testing.T) {
	l := startLoop(t)

	require.NoError(t, l.Do(context.Background(), func() { panic("boom") }))
	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)

	_, panicked := l.Stats()
	assert.Equal(t, uint64(1), panicked)
}

func TestDoSkipsTaskAfterTimeout(t *testing.T) {
	l := startLoop(t)

	release := make(chan struct{})
	require.NoError(t, l.Submit(func() { <-release }))

	var ran atomic.Bool
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, func() { ran.Store(true) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.False(t, ran.Load(), "a task whose caller gave up never runs")
}

func TestDoWaitsForStartedTask(t *testing.T) {
	l := startLoop(t)

	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	go func() {
		<-started
		cancel()
	}()
	err := l.Do(ctx, func() {
		close(started)
		time.Sleep(20 * time.Millisecond)
		ran.Store(true)
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestSubmitAfterClose(t *testing.T) {
	l := New(nil, 1)
	l.Close()
	l.Close()
	assert.ErrorIs(t, l.Submit(func() {}), ErrClosed)
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrClosed)
}

func TestRunTwice(t *testing.T) {
	l := startLoop(t)
	require.Eventually(t, l.running.Load, time.Second, time.Millisecond)
	assert.Error(t, l.Run(context.Background()))
}

func TestAfterFuncRunsOnLoop(t *testing.T) {
	l := startLoop(t)

	var fired atomic.Int32
	l.AfterFunc(time.Millisecond, func() { fired.Add(1) })
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
}

func TestStoppedTimerNeverFires(t *testing.T) {
	l := startLoop(t)

	var fired atomic.Int32
	var stopped bool
	require.NoError(t, l.Do(context.Background(), func() {
		tm := l.AfterFunc(time.Millisecond, func() { fired.Add(1) })
		time.Sleep(5 * time.Millisecond)
		stopped = tm.Stop()
	}))
	assert.True(t, stopped, "the callback cannot run while the loop is busy")

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.Equal(t, int32(0), fired.Load())
}

func TestNowIsMonotonic(t *testing.T) {
	a := Now()
	time.Sleep(time.Millisecond)
	b := Now()
	assert.Greater(t, b, a)
}
