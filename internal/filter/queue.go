package filter

import "thumbshift/internal/keyevent"

// maxPending is the capacity of the pending queue.
const maxPending = 3

// timedEntry is a key event and the time it was observed.
type timedEntry struct {
	key  keyevent.KeyEvent
	time int64
}

// pendingQueue is the bounded buffer of recent presses, newest first.
type pendingQueue struct {
	entries []timedEntry
}

func (q *pendingQueue) len() int {
	return len(q.entries)
}

// at returns the i-th entry counting from the newest.
func (q *pendingQueue) at(i int) timedEntry {
	return q.entries[i]
}

func (q *pendingQueue) head() *timedEntry {
	return &q.entries[0]
}

func (q *pendingQueue) pushFront(e timedEntry) {
	q.entries = append(q.entries, timedEntry{})
	copy(q.entries[1:], q.entries)
	q.entries[0] = e
}

func (q *pendingQueue) dropTail() {
	q.entries = q.entries[:len(q.entries)-1]
}

func (q *pendingQueue) clear() {
	q.entries = q.entries[:0]
}

// requeue leaves e as the only pending entry.
func (q *pendingQueue) requeue(e timedEntry) {
	q.clear()
	q.pushFront(e)
}

// enqueue records a raw key event observed at now. It returns an
// immediately resolved event, if any, and the number of microseconds until
// the engine next needs to look at the queue.
func (e *Engine) enqueue(key keyevent.KeyEvent, now int64) (keyevent.KeyEvent, bool, int64) {
	q := &e.queue

	if key.IsRelease() {
		if q.len() > 0 && q.head().key.BaseEqual(key) {
			press := q.head().key
			wait := e.recomputeWait(now)
			q.clear()
			e.log.Debug("press and release resolved", "key", press)
			return press, true, wait
		}
		// Releases of keys that are not pending are never buffered.
		return keyevent.KeyEvent{}, false, e.cfg.MaxWait
	}

	if q.len() > 0 && q.head().key.BaseEqual(key) {
		// Auto-repeat refreshes the pending press in place.
		q.head().time = now
		return keyevent.KeyEvent{}, false, e.recomputeWait(now)
	}

	for q.len() > maxPending-1 {
		q.dropTail()
	}
	q.pushFront(timedEntry{key: key, time: now})
	return keyevent.KeyEvent{}, false, e.cfg.MaxWait
}

// recomputeWait evicts entries older than the timeout, starting from the
// oldest, and returns how long until the newest remaining entry goes stale.
func (e *Engine) recomputeWait(now int64) int64 {
	q := &e.queue
	for i := q.len() - 1; i >= 0; i-- {
		if now-q.at(i).time > e.cfg.Timeout {
			e.log.Debug("evicting stale key", "key", q.at(i).key, "age_us", now-q.at(i).time)
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
		}
	}
	if q.len() > 0 {
		return e.cfg.Timeout - (now - q.at(0).time)
	}
	return e.cfg.MaxWait
}

// nextWake bounds wait by the time until the newest pending entry goes
// stale, so a lone key is re-examined once the timeout has passed. The
// result is at least one microsecond while anything is pending.
func (e *Engine) nextWake(wait, now int64) int64 {
	if e.queue.len() == 0 {
		return wait
	}
	stale := e.cfg.Timeout - (now - e.queue.at(0).time)
	if stale < 1 {
		stale = 1
	}
	return min(wait, stale)
}
