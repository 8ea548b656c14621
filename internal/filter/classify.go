package filter

import "thumbshift/internal/keyevent"

// classify decides what the pending queue resolves to at now. Keys resolved
// out of band are appended to fwd in press order; the return value is the
// event resolved for the caller, if any.
func (e *Engine) classify(now int64, fwd *[]keyevent.KeyEvent) (keyevent.KeyEvent, bool) {
	switch e.queue.len() {
	case 1:
		return e.classifySingle(now)
	case 2:
		return e.classifyPair(now, fwd)
	case 3:
		return e.classifyTriple(now, fwd)
	default:
		return keyevent.KeyEvent{}, false
	}
}

// classifySingle resolves a lone pending key once it is older than the
// timeout.
func (e *Engine) classifySingle(now int64) (keyevent.KeyEvent, bool) {
	a := e.queue.at(0)
	if now-a.time > e.cfg.Timeout {
		e.queue.clear()
		e.log.Debug("stale key resolved", "key", a.key, "age_us", now-a.time)
		return a.key, true
	}
	return keyevent.KeyEvent{}, false
}

// classifyPair resolves two pending presses.
func (e *Engine) classifyPair(now int64, fwd *[]keyevent.KeyEvent) (keyevent.KeyEvent, bool) {
	b, a := e.queue.at(0), e.queue.at(1)

	if b.time-a.time > e.cfg.Overlap {
		return e.splitPair(a, b, now, fwd)
	}

	if homogeneous(a.key, b.key) {
		name := comboName(a.key, b.key)
		if _, ok := e.special[name]; ok {
			e.queue.clear()
			e.log.Debug("special double resolved", "combo", name, "gap_us", b.time-a.time)
			return keyevent.KeyEvent{Name: name}, true
		}
		return e.splitPair(a, b, now, fwd)
	}

	if !shiftChord(a.key, b.key) {
		return e.splitPair(a, b, now, fwd)
	}

	if now-a.time > e.cfg.Timeout {
		e.queue.clear()
		out := absorb(a.key, b.key)
		e.log.Debug("shift chord resolved", "key", out, "gap_us", b.time-a.time)
		return out, true
	}
	return keyevent.KeyEvent{}, false
}

// splitPair resolves a as a standalone key and leaves b pending, resolving
// b too if it is already stale.
func (e *Engine) splitPair(a, b timedEntry, now int64, fwd *[]keyevent.KeyEvent) (keyevent.KeyEvent, bool) {
	e.queue.requeue(b)
	*fwd = append(*fwd, a.key)
	return e.classifySingle(now)
}

// classifyTriple resolves three pending presses by folding the middle one
// into whichever neighbour it is closer to in time. The middle key itself is
// never emitted.
func (e *Engine) classifyTriple(now int64, fwd *[]keyevent.KeyEvent) (keyevent.KeyEvent, bool) {
	b, s, a := e.queue.at(0), e.queue.at(1), e.queue.at(2)
	t1 := s.time - a.time
	t2 := b.time - s.time

	if t1 <= t2 {
		e.queue.requeue(b)
		*fwd = append(*fwd, absorb(s.key, a.key))
		return e.classifySingle(now)
	}

	e.queue.clear()
	*fwd = append(*fwd, a.key)
	return absorb(s.key, b.key), true
}
