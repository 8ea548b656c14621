//go:build linux

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"thumbshift/internal/eventloop"
	"thumbshift/internal/evdev"
	"thumbshift/internal/filter"
	"thumbshift/internal/keyevent"
	"thumbshift/internal/trace"
)

// runLive feeds a physical keyboard through the filter in real time until
// interrupted. With recordPath set the session is written to a trace.
func runLive(device string, grab bool, recordPath string, cfg filter.Config, stdout, stderr io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec *trace.Recorder
	if recordPath != "" {
		store, err := trace.Open(recordPath)
		if err != nil {
			return err
		}
		defer store.Close()
		id, err := store.StartSession("live "+device, eventloop.Now(), cfg)
		if err != nil {
			return err
		}
		rec = trace.NewRecorder(store, id, nil)
		defer func() {
			rec.Close()
			fmt.Fprintf(stderr, "recorded session %d (%d dropped)\n", id, rec.Dropped())
		}()
	}
	record := func(dir trace.Direction, k keyevent.KeyEvent) {
		if rec != nil {
			rec.Record(dir, eventloop.Now(), k)
		}
	}

	start := eventloop.Now()
	emit := func(kind string, k keyevent.KeyEvent) {
		fmt.Fprintf(stdout, "%d %s %s\n", eventloop.Now()-start, kind, k)
	}

	loop := eventloop.New(nil, 0)
	engine := filter.New(cfg,
		filter.WithClock(eventloop.Now),
		filter.WithScheduler(loop),
		filter.WithForward(func(k keyevent.KeyEvent) {
			record(trace.Fwd, k)
			emit("fwd", k)
		}),
	)

	src, err := evdev.Open(device, evdev.DefaultKeymap(), grab, nil)
	if err != nil {
		return err
	}
	defer src.Close()

	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(ctx) }()

	fmt.Fprintf(stderr, "reading %s with %s; interrupt to stop\n", device, cfg)
	err = src.Run(ctx, func(ev evdev.Event) {
		loop.Submit(func() {
			if ev.Action == evdev.Reset {
				engine.Reset()
				record(trace.Reset, keyevent.New("non-filter key", keyevent.ModNone))
				return
			}
			record(trace.In, ev.Key)
			if out, ok := engine.Process(ev.Key); ok {
				record(trace.Out, out)
				emit("sync", out)
			}
		})
	})
	stop()
	<-loopErr
	return err
}
