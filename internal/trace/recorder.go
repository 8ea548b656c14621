package trace

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"thumbshift/internal/keyevent"
)

// Recorder batches events for one session and writes them from a
// background goroutine, keeping database latency off the key path.
type Recorder struct {
	store     *Store
	sessionID int64
	log       *slog.Logger

	events  chan Event
	seq     atomic.Int64
	dropped atomic.Uint64
	wg      sync.WaitGroup
	once    sync.Once
}

const (
	recorderBuffer = 1024
	recorderBatch  = 128
	flushInterval  = 250 * time.Millisecond
)

// NewRecorder starts a recorder writing to sessionID.
func NewRecorder(store *Store, sessionID int64, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	r := &Recorder{
		store:     store,
		sessionID: sessionID,
		log:       log,
		events:    make(chan Event, recorderBuffer),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// SessionID returns the session being recorded.
func (r *Recorder) SessionID() int64 {
	return r.sessionID
}

// Record queues an event. It never blocks; events are dropped and counted
// when the buffer is full. It must not be called after Close.
func (r *Recorder) Record(dir Direction, timeUs int64, key keyevent.KeyEvent) {
	e := Event{
		SessionID: r.sessionID,
		Seq:       r.seq.Add(1),
		TimeUs:    timeUs,
		Direction: dir,
		Key:       key,
	}
	select {
	case r.events <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close flushes queued events and stops the writer.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.events)
		r.wg.Wait()
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, recorderBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.store.Record(batch...); err != nil {
			r.log.Error("trace write failed", "error", err, "events", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-r.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) == recorderBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
